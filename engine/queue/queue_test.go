package queue_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/WessleyAI/bili-harvest/engine/queue"
)

// gatedRunner blocks every run until its key is released.
type gatedRunner struct {
	mu      sync.Mutex
	started []string
	active  int
	maxSeen int
	gates   map[string]chan error
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{gates: make(map[string]chan error)}
}

func (g *gatedRunner) gate(key string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates[key] == nil {
		g.gates[key] = make(chan error, 1)
	}
	return g.gates[key]
}

func (g *gatedRunner) run(ctx context.Context, key string) error {
	g.mu.Lock()
	g.started = append(g.started, key)
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()

	err := <-g.gate(key)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	if err != nil && err.Error() == "panic" {
		panic("collector blew up")
	}
	return err
}

func (g *gatedRunner) release(key string, err error) { g.gate(key) <- err }

func (g *gatedRunner) Started() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

func (g *gatedRunner) MaxConcurrent() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxSeen
}

type fakeGauge struct {
	mu  sync.Mutex
	val int64
}

func (f *fakeGauge) Set(n int64) { f.mu.Lock(); f.val = n; f.mu.Unlock() }
func (f *fakeGauge) Value() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val
}

var _ = Describe("Queue", func() {
	var (
		runner *gatedRunner
		gauge  *fakeGauge
		q      *queue.Queue
	)

	BeforeEach(func() {
		runner = newGatedRunner()
		gauge = &fakeGauge{}
		q = queue.New(context.Background(), runner.run, queue.Options{ReadyGauge: gauge})
	})

	It("starts the first submission immediately", func() {
		Expect(q.Submit("A")).To(Equal(queue.Started))
		Eventually(runner.Started).Should(Equal([]string{"A"}))
		status, ok := q.Status("A")
		Expect(ok).To(BeTrue())
		Expect(status).To(Equal(queue.Running))

		runner.release("A", nil)
		q.Wait()
		_, ok = q.Status("A")
		Expect(ok).To(BeFalse())
	})

	It("queues a second key instead of starting it", func() {
		q.Submit("A")
		Eventually(runner.Started).Should(Equal([]string{"A"}))

		Expect(q.Submit("B")).To(Equal(queue.Queued))
		Consistently(runner.Started, "50ms").Should(Equal([]string{"A"}))
		Expect(q.Snapshot()).To(Equal(queue.Snapshot{Running: "A", Ready: []string{"B"}}))
		Expect(gauge.Value()).To(Equal(int64(1)))

		runner.release("A", nil)
		Eventually(runner.Started).Should(Equal([]string{"A", "B"}))
		runner.release("B", nil)
		q.Wait()
		Expect(gauge.Value()).To(Equal(int64(0)))
	})

	It("runs a key submitted many times during another run exactly once", func() {
		q.Submit("A")
		Eventually(runner.Started).Should(HaveLen(1))
		Expect(q.Submit("B")).To(Equal(queue.Queued))
		Expect(q.Submit("B")).To(Equal(queue.Coalesced))
		Expect(q.Submit("B")).To(Equal(queue.Coalesced))
		Expect(q.Submit("A")).To(Equal(queue.Coalesced))

		runner.release("A", nil)
		Eventually(runner.Started).Should(Equal([]string{"A", "B"}))
		runner.release("B", nil)
		q.Wait()
		Expect(runner.Started()).To(Equal([]string{"A", "B"}))
	})

	It("promotes ready keys in submission order, one at a time", func() {
		q.Submit("A")
		Eventually(runner.Started).Should(HaveLen(1))
		q.Submit("C")
		q.Submit("B")
		q.Submit("D")

		for _, k := range []string{"A", "C", "B"} {
			runner.release(k, nil)
		}
		runner.release("D", nil)
		q.Wait()
		Expect(runner.Started()).To(Equal([]string{"A", "C", "B", "D"}))
		Expect(runner.MaxConcurrent()).To(Equal(1))
	})

	It("moves on after a failed or panicking run", func() {
		q.Submit("A")
		Eventually(runner.Started).Should(HaveLen(1))
		q.Submit("B")
		q.Submit("C")

		runner.release("A", errors.New("detail fetch failed"))
		runner.release("B", errors.New("panic"))
		runner.release("C", nil)
		q.Wait()
		Expect(runner.Started()).To(Equal([]string{"A", "B", "C"}))
	})

	It("treats the empty key like any other key", func() {
		Expect(q.Submit("")).To(Equal(queue.Started))
		Eventually(runner.Started).Should(Equal([]string{""}))
		Expect(q.Submit("B")).To(Equal(queue.Queued))
		Consistently(runner.Started, "50ms").Should(Equal([]string{""}))

		runner.release("", nil)
		Eventually(runner.Started).Should(Equal([]string{"", "B"}))
		runner.release("B", nil)
		q.Wait()
		Expect(runner.MaxConcurrent()).To(Equal(1))
	})

	It("accepts a key again once its run completed", func() {
		q.Submit("A")
		runner.release("A", nil)
		q.Wait()
		Expect(q.Submit("A")).To(Equal(queue.Started))
		runner.release("A", nil)
		q.Wait()
		Expect(runner.Started()).To(Equal([]string{"A", "A"}))
	})
})

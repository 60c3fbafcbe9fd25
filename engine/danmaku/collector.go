package danmaku

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"go.uber.org/zap"
)

// DefaultFraction of the reported total that counts as a complete sample.
const DefaultFraction = 0.8

// Source fetches one raw segment body. Segment indices are 1-based.
type Source interface {
	Segment(ctx context.Context, cid int64, index int) ([]byte, error)
}

// Pacer blocks before each upstream request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// StopReason says why a collection ended.
type StopReason string

const (
	StopTarget    StopReason = "target"
	StopExhausted StopReason = "exhausted"
	StopFailed    StopReason = "failed"
	StopCanceled  StopReason = "canceled"
)

// Result is the outcome of one collection run. Entries is always usable,
// even when Err is set.
type Result struct {
	Entries  []domain.DanmakuEntry
	Target   int
	Segments int
	Senders  int
	Reason   StopReason
	Err      error
}

// Coverage is the percentage of the target reached.
func (r Result) Coverage() float64 {
	if r.Target == 0 {
		return 100
	}
	return float64(len(r.Entries)) / float64(r.Target) * 100
}

// Options configures a Collector.
type Options struct {
	Fraction float64
	Pacer    Pacer
	Logger   *zap.SugaredLogger
}

// Collector pulls segments until the target is met or the stream ends.
type Collector struct {
	src  Source
	opts Options
}

type noPacer struct{}

func (noPacer) Wait(ctx context.Context) error { return ctx.Err() }

// NewCollector creates a Collector reading from src.
func NewCollector(src Source, opts Options) *Collector {
	if opts.Fraction <= 0 || opts.Fraction > 1 {
		opts.Fraction = DefaultFraction
	}
	if opts.Pacer == nil {
		opts.Pacer = noPacer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Collector{src: src, opts: opts}
}

// Target is floor(total * fraction).
func (c *Collector) Target(total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(float64(total) * c.opts.Fraction))
}

// Collect gathers entries for res.CID. total is the upstream danmaku count.
func (c *Collector) Collect(ctx context.Context, res domain.VideoResource, total int64) Result {
	log := c.opts.Logger
	r := Result{Target: c.Target(total)}
	aliases := NewPseudonymizer()

	for seg := 1; ; seg++ {
		if len(r.Entries) >= r.Target {
			r.Reason = StopTarget
			break
		}
		if err := c.opts.Pacer.Wait(ctx); err != nil {
			r.Reason, r.Err = StopCanceled, err
			break
		}
		body, err := c.src.Segment(ctx, res.CID, seg)
		if err != nil {
			if ctx.Err() != nil {
				r.Reason, r.Err = StopCanceled, ctx.Err()
			} else {
				r.Reason, r.Err = StopFailed, err
			}
			log.Warnw("danmaku segment fetch failed", "cid", res.CID, "segment", seg, "err", err)
			break
		}
		elems, err := DecodeSegment(body)
		if err != nil {
			r.Reason, r.Err = StopFailed, err
			log.Warnw("danmaku segment malformed", "cid", res.CID, "segment", seg, "err", err)
			break
		}
		r.Segments++
		if len(elems) == 0 {
			r.Reason = StopExhausted
			break
		}
		for _, e := range elems {
			r.Entries = append(r.Entries, e.Entry(aliases.Alias(e.MidHash)))
		}
		log.Infow("danmaku segment", "segment", seg, "decoded", len(elems), "total", len(r.Entries), "target", r.Target)
	}

	sort.SliceStable(r.Entries, func(i, j int) bool {
		return r.Entries[i].TimeOffset < r.Entries[j].TimeOffset
	})
	r.Senders = aliases.Len()
	log.Infow("danmaku collection finished",
		"reason", r.Reason,
		"entries", len(r.Entries),
		"target", r.Target,
		"coverage", fmt.Sprintf("%.2f%%", r.Coverage()),
	)
	return r
}

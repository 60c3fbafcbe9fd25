package harvest

import (
	"time"

	"github.com/WessleyAI/bili-harvest/engine/comments"
	"github.com/WessleyAI/bili-harvest/pkg/metrics"
)

// Metrics are the counters a Harvester maintains. A nil *Metrics is a no-op.
type Metrics struct {
	Pages       *metrics.Counter
	Retries     *metrics.Counter
	Segments    *metrics.Counter
	RunsDone    *metrics.Counter
	RunsSkipped *metrics.Counter
	RunsFailed  *metrics.Counter
	RunSeconds  *metrics.Histogram
	QueueReady  *metrics.Gauge
}

// NewMetrics registers the harvest series on r.
func NewMetrics(r *metrics.Registry) *Metrics {
	run := func(status string) *metrics.Counter {
		return r.Counter(metrics.WithLabels("harvest_runs_total", "status", status), "Collection runs by outcome.")
	}
	return &Metrics{
		Pages:       r.Counter("harvest_comment_pages_total", "Comment pages fetched."),
		Retries:     r.Counter("harvest_comment_retries_total", "Comment page fetches retried."),
		Segments:    r.Counter("harvest_danmaku_segments_total", "Danmaku segments fetched."),
		RunsDone:    run("done"),
		RunsSkipped: run("skipped"),
		RunsFailed:  run("failed"),
		RunSeconds:  r.Histogram("harvest_run_seconds", "Duration of collection runs.", metrics.RunBuckets),
		QueueReady:  r.Gauge("harvest_queue_ready", "Submitted videos waiting to run."),
	}
}

func (m *Metrics) observe(rep Report, err error, start time.Time) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.RunsFailed.Inc()
	case rep.Skipped:
		m.RunsSkipped.Inc()
	default:
		m.RunsDone.Inc()
	}
	m.RunSeconds.Since(start)
}

func (m *Metrics) collected(r comments.Result) {
	if m == nil {
		return
	}
	m.Pages.Add(int64(r.Pages))
	m.Retries.Add(int64(r.Retries))
}

func (m *Metrics) segments(n int) {
	if m == nil {
		return
	}
	m.Segments.Add(int64(n))
}

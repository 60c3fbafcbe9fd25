package comments

import (
	"context"
	"fmt"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"go.uber.org/zap"
)

// DefaultFraction is the comment coverage target used when none is set.
const DefaultFraction = 0.9

// Source is the upstream comment API. MainComments returns an empty slice for
// a valid page without comments.
type Source interface {
	MainComments(ctx context.Context, oid int64, page int) ([]domain.Comment, error)
	Replies(ctx context.Context, oid, root int64) ([]domain.Comment, error)
}

// Pacer blocks before each upstream request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Result is the outcome of one run. Comments holds everything accumulated,
// including when the run ended early.
type Result struct {
	Comments []domain.Comment
	Total    int
	Target   int
	Pages    int
	Retries  int
	Reason   StopReason
	Err      error
}

// Coverage is the percentage of the target reached.
func (r Result) Coverage() float64 {
	if r.Target == 0 {
		return 100
	}
	return float64(r.Total) / float64(r.Target) * 100
}

// Options configures a Collector.
type Options struct {
	Fraction float64
	// Pacer runs before every page fetch and every reply expansion.
	Pacer Pacer
	// RetryPacer runs before a failed page is fetched again.
	RetryPacer Pacer
	Logger     *zap.SugaredLogger
}

// Collector drives the pagination state machine against a Source.
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
	if opts.RetryPacer == nil {
		opts.RetryPacer = noPacer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Collector{src: src, opts: opts}
}

// Collect pages through the comments of res.OID. reported is the upstream
// reply counter from the video detail.
func (c *Collector) Collect(ctx context.Context, res domain.VideoResource, reported int64) Result {
	log := c.opts.Logger
	st := NewState(reported, c.opts.Fraction)
	seen := make(map[int64]struct{})
	r := Result{Target: st.Target}
	log.Infow("comment collection started", "oid", res.OID, "reported", reported, "target", st.Target)

	for {
		if err := c.opts.Pacer.Wait(ctx); err != nil {
			r.Reason, r.Err = StopCanceled, err
			break
		}
		fresh, raw, err := c.fetchPage(ctx, res, st.Page, seen)
		if err != nil && ctx.Err() != nil {
			r.Reason, r.Err = StopCanceled, ctx.Err()
			break
		}

		var obs Observation
		switch {
		case err != nil:
			obs = Observation{Kind: Failed}
			r.Err = err
			log.Warnw("comment page failed", "page", st.Page, "attempt", st.Errors+1, "err", err)
		case raw == 0:
			obs = Observation{Kind: Empty}
			log.Infow("comment page empty", "page", st.Page, "consecutive", st.Empty+1)
		default:
			obs = Observation{Kind: Page, NewTopLevel: len(fresh)}
			for _, cm := range fresh {
				seen[cm.ID] = struct{}{}
				obs.NewReplies += cm.ReplyCount
			}
			r.Comments = append(r.Comments, fresh...)
			r.Pages++
		}

		next, d := st.Next(obs)
		if obs.Kind != Failed {
			r.Err = nil
		}
		st = next
		if obs.Kind == Page {
			log.Infow("comment page",
				"page", st.Page,
				"topLevel", st.TopLevel,
				"replies", st.Total-st.TopLevel,
				"total", st.Total,
				"target", st.Target,
			)
		}

		if d.Action == Stop {
			r.Reason = d.Reason
			break
		}
		if d.Action == Retry {
			r.Retries++
			if err := c.opts.RetryPacer.Wait(ctx); err != nil {
				r.Reason, r.Err = StopCanceled, err
				break
			}
		}
	}

	r.Total = st.Total
	log.Infow("comment collection finished",
		"reason", r.Reason,
		"total", r.Total,
		"target", r.Target,
		"coverage", fmt.Sprintf("%.2f%%", r.Coverage()),
	)
	return r
}

// fetchPage returns the comments of page not yet in seen, each with its
// replies attached, and the raw number of comments the page carried.
func (c *Collector) fetchPage(ctx context.Context, res domain.VideoResource, page int, seen map[int64]struct{}) ([]domain.Comment, int, error) {
	list, err := c.src.MainComments(ctx, res.OID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("page %d: %w", page, err)
	}
	fresh := make([]domain.Comment, 0, len(list))
	inPage := make(map[int64]struct{}, len(list))
	for _, cm := range list {
		if _, dup := seen[cm.ID]; dup {
			continue
		}
		if _, dup := inPage[cm.ID]; dup {
			continue
		}
		inPage[cm.ID] = struct{}{}
		if cm.ReplyCount > 0 {
			if err := c.opts.Pacer.Wait(ctx); err != nil {
				return nil, 0, err
			}
			children, err := c.src.Replies(ctx, res.OID, cm.ID)
			if err != nil {
				return nil, 0, fmt.Errorf("replies of %d: %w", cm.ID, err)
			}
			cm.Children = children
		} else {
			cm.Children = nil
		}
		fresh = append(fresh, cm)
	}
	return fresh, len(list), nil
}

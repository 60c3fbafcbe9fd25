// Package harvest runs one collection for a video: resolve its identifiers,
// collect danmaku, subtitles and comments into the archive, then notify sinks.
package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/archive"
	"github.com/WessleyAI/bili-harvest/engine/comments"
	"github.com/WessleyAI/bili-harvest/engine/danmaku"
	"github.com/WessleyAI/bili-harvest/engine/domain"
	"github.com/WessleyAI/bili-harvest/engine/ledger"
	"github.com/WessleyAI/bili-harvest/pkg/fn"
	"go.uber.org/zap"
)

// Upstream is everything a run fetches.
type Upstream interface {
	comments.Source
	danmaku.Source
	Detail(ctx context.Context, bvid string) (domain.VideoDetail, error)
	Subtitles(ctx context.Context, res domain.VideoResource) ([]domain.SubtitleLine, error)
}

// Index knows archive paths of videos harvested before.
type Index interface {
	Lookup(ctx context.Context, bvid string) (string, error)
}

// Ledger records the lifecycle of each run.
type Ledger interface {
	StartRun(ctx context.Context, bvid string) (string, error)
	FinishRun(ctx context.Context, r ledger.Run) error
	FailRun(ctx context.Context, id string, cause error) error
}

// Sink receives the report of every freshly written archive.
type Sink interface {
	Name() string
	Record(ctx context.Context, r Report) error
}

// Report summarizes a finished run.
type Report struct {
	Detail        domain.VideoDetail
	Dir           string
	ArchivePath   string
	Skipped       bool
	Reused        []string
	Comments      []domain.Comment
	CommentTotal  int
	CommentTarget int
	CommentStop   comments.StopReason
	DanmakuCount  int
	DanmakuTarget int
	DanmakuStop   danmaku.StopReason
	FinishedAt    time.Time
}

// Options configures a Harvester.
type Options struct {
	OutputDir   string
	Comments    comments.Options
	Danmaku     danmaku.Options
	DetailRetry fn.RetryOpts
	Indexes     []Index
	Ledger      Ledger
	Sinks       []Sink
	Metrics     *Metrics
	Logger      *zap.SugaredLogger
}

// Harvester performs collection runs. Run is safe to use as a queue.RunFunc.
type Harvester struct {
	up       Upstream
	asm      *archive.Assembler
	comments *comments.Collector
	danmaku  *danmaku.Collector
	opts     Options
	log      *zap.SugaredLogger
}

// New creates a Harvester fetching from up.
func New(up Upstream, opts Options) *Harvester {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.DetailRetry.MaxAttempts == 0 {
		opts.DetailRetry = fn.DefaultRetry
	}
	if opts.Comments.Logger == nil {
		opts.Comments.Logger = opts.Logger.Named("comments")
	}
	if opts.Danmaku.Logger == nil {
		opts.Danmaku.Logger = opts.Logger.Named("danmaku")
	}
	return &Harvester{
		up:       up,
		asm:      archive.NewAssembler(opts.OutputDir, opts.Logger.Named("archive")),
		comments: comments.NewCollector(up, opts.Comments),
		danmaku:  danmaku.NewCollector(up, opts.Danmaku),
		opts:     opts,
		log:      opts.Logger,
	}
}

// Run harvests the video identified by bvid.
func (h *Harvester) Run(ctx context.Context, bvid string) error {
	start := time.Now()
	log := h.log.With("bvid", bvid)

	runID := ""
	if h.opts.Ledger != nil {
		id, err := h.opts.Ledger.StartRun(ctx, bvid)
		if err != nil {
			log.Warnw("ledger unavailable", "err", err)
		}
		runID = id
	}

	rep, err := h.run(ctx, bvid, log)
	h.opts.Metrics.observe(rep, err, start)
	// ledger rows are closed even when ctx was canceled
	lctx := context.WithoutCancel(ctx)
	if err != nil {
		if runID != "" {
			if lerr := h.opts.Ledger.FailRun(lctx, runID, err); lerr != nil {
				log.Warnw("record failed run", "err", lerr)
			}
		}
		return err
	}

	if runID != "" {
		if lerr := h.opts.Ledger.FinishRun(lctx, ledgerRun(runID, rep)); lerr != nil {
			log.Warnw("record finished run", "err", lerr)
		}
	}
	if !rep.Skipped {
		for _, s := range h.opts.Sinks {
			if serr := s.Record(ctx, rep); serr != nil {
				log.Warnw("sink failed", "sink", s.Name(), "err", serr)
			}
		}
	}
	log.Infow("run complete", "skipped", rep.Skipped, "archive", rep.ArchivePath, "duration", time.Since(start))
	return nil
}

func (h *Harvester) run(ctx context.Context, bvid string, log *zap.SugaredLogger) (Report, error) {
	if path := h.known(ctx, bvid, log); path != "" {
		log.Infow("archive already harvested, skipping", "path", path)
		return Report{
			Detail:      domain.VideoDetail{VideoResource: domain.VideoResource{BVID: bvid}},
			Dir:         filepath.Dir(path),
			ArchivePath: path,
			Skipped:     true,
			FinishedAt:  time.Now(),
		}, nil
	}

	detail, err := fn.Retry(ctx, h.opts.DetailRetry, func(ctx context.Context) fn.Result[domain.VideoDetail] {
		return fn.FromPair(h.up.Detail(ctx, bvid))
	}).Unwrap()
	if err != nil {
		return Report{}, fmt.Errorf("detail %s: %w", bvid, err)
	}
	res := detail.Resource()
	log.Infow("detail resolved", "title", detail.Title, "oid", res.OID, "cid", res.CID,
		"replies", detail.Stats.Reply, "danmaku", detail.Stats.Danmaku)

	rep := Report{Detail: detail}
	in := archive.Inputs{
		Danmaku: func(ctx context.Context) ([]domain.DanmakuEntry, error) {
			r := h.danmaku.Collect(ctx, res, detail.Stats.Danmaku)
			rep.DanmakuCount, rep.DanmakuTarget, rep.DanmakuStop = len(r.Entries), r.Target, r.Reason
			h.opts.Metrics.segments(r.Segments)
			return r.Entries, r.Err
		},
		Subtitles: func(ctx context.Context) ([]domain.SubtitleLine, error) {
			return h.up.Subtitles(ctx, res)
		},
		Comments: func(ctx context.Context) ([]domain.Comment, error) {
			r := h.comments.Collect(ctx, res, detail.Stats.Reply)
			rep.Comments = r.Comments
			rep.CommentTotal, rep.CommentTarget, rep.CommentStop = r.Total, r.Target, r.Reason
			h.opts.Metrics.collected(r)
			return r.Comments, r.Err
		},
	}

	out, err := h.asm.Assemble(ctx, detail, in)
	if err != nil {
		return rep, fmt.Errorf("assemble %s: %w", bvid, err)
	}
	rep.Dir, rep.ArchivePath, rep.Skipped, rep.Reused = out.Dir, out.ArchivePath, out.Skipped, out.Reused
	rep.FinishedAt = time.Now()
	return rep, nil
}

// known returns a recorded archive path that still exists on disk.
func (h *Harvester) known(ctx context.Context, bvid string, log *zap.SugaredLogger) string {
	for _, idx := range h.opts.Indexes {
		path, err := idx.Lookup(ctx, bvid)
		if err != nil {
			log.Warnw("archive index lookup failed", "err", err)
			continue
		}
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func ledgerRun(id string, r Report) ledger.Run {
	status := ledger.StatusDone
	if r.Skipped {
		status = ledger.StatusSkipped
	}
	return ledger.Run{
		ID:            id,
		OID:           r.Detail.OID,
		CID:           r.Detail.CID,
		Title:         r.Detail.Title,
		OutputDir:     r.Dir,
		ArchivePath:   r.ArchivePath,
		CommentTotal:  r.CommentTotal,
		CommentTarget: r.CommentTarget,
		CommentStop:   string(r.CommentStop),
		DanmakuCount:  r.DanmakuCount,
		DanmakuTarget: r.DanmakuTarget,
		DanmakuStop:   string(r.DanmakuStop),
		Status:        status,
	}
}

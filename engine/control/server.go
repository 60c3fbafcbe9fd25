// Package control exposes the submission queue over HTTP.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"github.com/WessleyAI/bili-harvest/engine/ledger"
	"github.com/WessleyAI/bili-harvest/engine/queue"
	"github.com/WessleyAI/bili-harvest/pkg/mid"
	"go.uber.org/zap"
)

// Submitter accepts keys for collection, e.g. *queue.Queue.
type Submitter interface {
	Submit(key string) queue.Outcome
	Snapshot() queue.Snapshot
}

// RunLister reads the run history, e.g. *ledger.Store.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.Run, error)
}

// Options configures the handler.
type Options struct {
	CORSOrigin string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Runs serves /api/runs when set.
	Runs   RunLister
	Logger *zap.SugaredLogger
}

// SubmitResponse is the body of a start-crawl answer.
type SubmitResponse struct {
	BVID    string         `json:"bvid"`
	Outcome string         `json:"outcome"`
	Queue   queue.Snapshot `json:"queue"`
}

// RunView is one ledger row as served by /api/runs.
type RunView struct {
	ID            string `json:"id"`
	BVID          string `json:"bvid"`
	Title         string `json:"title,omitempty"`
	Status        string `json:"status"`
	ArchivePath   string `json:"archive_path,omitempty"`
	CommentTotal  int    `json:"comment_total"`
	CommentTarget int    `json:"comment_target"`
	DanmakuCount  int    `json:"danmaku_count"`
	DanmakuTarget int    `json:"danmaku_target"`
	Error         string `json:"error,omitempty"`
	StartedAt     int64  `json:"started_at"`
	FinishedAt    int64  `json:"finished_at,omitempty"`
}

// NewHandler builds the control API wrapped in the standard middleware chain.
func NewHandler(q Submitter, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /start-crawl/{bvid...}", handleStart(q, opts.Logger))
	mux.HandleFunc("GET /api/queue", handleQueue(q))
	if opts.Runs != nil {
		mux.HandleFunc("GET /api/runs", handleRuns(opts.Runs, opts.Logger))
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	return mid.Chain(mux,
		mid.Recover(opts.Logger),
		mid.Logger(opts.Logger),
		mid.CORS(opts.CORSOrigin),
		mid.OTel("bili-harvest"),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStart(q Submitter, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bvid, err := domain.ParseBVID(r.PathValue("bvid"), "")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		outcome := q.Submit(bvid)
		log.Infow("crawl requested", "bvid", bvid, "outcome", outcome)
		writeJSON(w, http.StatusAccepted, SubmitResponse{
			BVID:    bvid,
			Outcome: outcome.String(),
			Queue:   q.Snapshot(),
		})
	}
}

func handleQueue(q Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, q.Snapshot())
	}
}

func handleRuns(runs RunLister, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		rs, err := runs.ListRuns(r.Context(), limit)
		if err != nil {
			log.Errorw("list runs failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out := make([]RunView, 0, len(rs))
		for _, run := range rs {
			v := RunView{
				ID:            run.ID,
				BVID:          run.BVID,
				Title:         run.Title,
				Status:        string(run.Status),
				ArchivePath:   run.ArchivePath,
				CommentTotal:  run.CommentTotal,
				CommentTarget: run.CommentTarget,
				DanmakuCount:  run.DanmakuCount,
				DanmakuTarget: run.DanmakuTarget,
				Error:         run.Error,
				StartedAt:     run.StartedAt.UnixMilli(),
			}
			if !run.FinishedAt.IsZero() {
				v.FinishedAt = run.FinishedAt.UnixMilli()
			}
			out = append(out, v)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

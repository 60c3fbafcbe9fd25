package harvest

import (
	"context"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"github.com/WessleyAI/bili-harvest/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Subjects used on the message bus.
const (
	SubjectArchived = "harvest.archived"
	SubjectRequests = "harvest.requests"
)

// ArchivedEvent is published after an archive is written.
type ArchivedEvent struct {
	BVID          string    `json:"bvid"`
	OID           int64     `json:"oid"`
	CID           int64     `json:"cid"`
	Title         string    `json:"title"`
	OutputDir     string    `json:"output_dir"`
	ArchivePath   string    `json:"archive_path"`
	CommentTotal  int       `json:"comment_total"`
	CommentTarget int       `json:"comment_target"`
	CommentStop   string    `json:"comment_stop"`
	DanmakuCount  int       `json:"danmaku_count"`
	DanmakuTarget int       `json:"danmaku_target"`
	DanmakuStop   string    `json:"danmaku_stop"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Request asks a serving harvester to collect a video.
type Request struct {
	BVID string `json:"bvid"`
}

// NewArchivedEvent builds the event for r.
func NewArchivedEvent(r Report) ArchivedEvent {
	return ArchivedEvent{
		BVID:          r.Detail.BVID,
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
		FinishedAt:    r.FinishedAt,
	}
}

// NATSSink publishes an ArchivedEvent per archive.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink publishes on SubjectArchived.
func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc, subject: SubjectArchived}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Record(ctx context.Context, r Report) error {
	return natsutil.Publish(ctx, s.nc, s.subject, NewArchivedEvent(r))
}

// ThreadSaver stores a comment thread, e.g. *graph.Store.
type ThreadSaver interface {
	SaveThread(ctx context.Context, d domain.VideoDetail, cs []domain.Comment) error
}

// GraphSink writes the comment tree of each archive.
type GraphSink struct{ store ThreadSaver }

func NewGraphSink(store ThreadSaver) *GraphSink { return &GraphSink{store: store} }

func (s *GraphSink) Name() string { return "graph" }

func (s *GraphSink) Record(ctx context.Context, r Report) error {
	return s.store.SaveThread(ctx, r.Detail, r.Comments)
}

// Marker remembers archive paths, e.g. *dedup.Marker.
type Marker interface {
	Mark(ctx context.Context, bvid, path string) error
}

// MarkSink records each archive path in a Marker.
type MarkSink struct{ m Marker }

func NewMarkSink(m Marker) *MarkSink { return &MarkSink{m: m} }

func (s *MarkSink) Name() string { return "dedup" }

func (s *MarkSink) Record(ctx context.Context, r Report) error {
	return s.m.Mark(ctx, r.Detail.BVID, r.ArchivePath)
}

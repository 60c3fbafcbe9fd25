package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/WessleyAI/bili-harvest/engine/domain"
)

type call struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	calls  []call
	failOn string
	closed bool
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) error {
	f.calls = append(f.calls, call{cypher, params})
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return errors.New("neo4j unavailable")
	}
	return nil
}

func (f *fakeRunner) Close(context.Context) error { f.closed = true; return nil }

func newTestStore(r *fakeRunner, batch int) *Store {
	return &Store{batchSize: batch, newSession: func(context.Context) runner { return r }}
}

var detail = domain.VideoDetail{
	VideoResource: domain.VideoResource{BVID: "BV1xx411c7mD", OID: 170001, CID: 9001},
	Title:         "Demo",
	OwnerName:     "up",
	Stats:         domain.Stats{Reply: 5, Danmaku: 9},
}

func thread() []domain.Comment {
	return []domain.Comment{
		{ID: 1, Author: "a", ReplyCount: 2, Children: []domain.Comment{{ID: 11}, {ID: 12}}},
		{ID: 2, Author: "b"},
		{ID: 3, Author: "c", ReplyCount: 1, Children: []domain.Comment{{ID: 31}}},
	}
}

func TestSaveThread(t *testing.T) {
	r := &fakeRunner{}
	if err := newTestStore(r, 500).SaveThread(context.Background(), detail, thread()); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	if !r.closed {
		t.Fatal("session not closed")
	}
	if len(r.calls) != 3 {
		t.Fatalf("expected video, comments and replies statements, got %d", len(r.calls))
	}
	if r.calls[0].params["bvid"] != "BV1xx411c7mD" || r.calls[0].params["oid"] != int64(170001) {
		t.Fatalf("unexpected video params %v", r.calls[0].params)
	}
	rows := r.calls[1].params["rows"].([]any)
	if len(rows) != 6 {
		t.Fatalf("expected 6 comment rows, got %d", len(rows))
	}
	edges := r.calls[2].params["edges"].([]any)
	if len(edges) != 3 {
		t.Fatalf("expected 3 reply edges, got %d", len(edges))
	}
	first := edges[0].(map[string]any)
	if first["child"] != int64(11) || first["parent"] != int64(1) {
		t.Fatalf("unexpected edge %v", first)
	}
}

func TestSaveThreadBatches(t *testing.T) {
	r := &fakeRunner{}
	if err := newTestStore(r, 4).SaveThread(context.Background(), detail, thread()); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	// 1 video + 2 comment batches (4+2) + 1 edge batch
	if len(r.calls) != 4 {
		t.Fatalf("expected 4 statements, got %d", len(r.calls))
	}
}

func TestSaveThreadNoComments(t *testing.T) {
	r := &fakeRunner{}
	if err := newTestStore(r, 10).SaveThread(context.Background(), detail, nil); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("only the video should be merged, got %d statements", len(r.calls))
	}
}

func TestSaveThreadError(t *testing.T) {
	r := &fakeRunner{failOn: "REPLIES_TO"}
	err := newTestStore(r, 10).SaveThread(context.Background(), detail, thread())
	if err == nil || !strings.Contains(err.Error(), "merge replies") {
		t.Fatalf("expected replies error, got %v", err)
	}
	if !r.closed {
		t.Fatal("session must be closed on error")
	}
}

func TestChunk(t *testing.T) {
	xs := []any{1, 2, 3, 4, 5}
	got := chunk(xs, 2)
	if len(got) != 3 || len(got[2]) != 1 {
		t.Fatalf("unexpected chunks %v", got)
	}
	if chunk(nil, 2) != nil {
		t.Fatal("empty input should give no chunks")
	}
}

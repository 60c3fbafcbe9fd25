package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"github.com/WessleyAI/bili-harvest/pkg/natsutil"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	t.Cleanup(ns.Shutdown)
	if !ns.ReadyForConnections(2 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := natsutil.Connect(ns.ClientURL(), "harvest-test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSSink_PublishesArchivedEvent(t *testing.T) {
	nc := startNATS(t)
	got := make(chan ArchivedEvent, 1)
	sub, err := natsutil.Subscribe(nc, SubjectArchived, func(_ context.Context, ev ArchivedEvent) { got <- ev }, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	rep := Report{
		Detail:        domain.VideoDetail{VideoResource: domain.VideoResource{BVID: bvid, OID: 7, CID: 8}, Title: "demo"},
		ArchivePath:   "/out/demo-7/bilibili_all.txt",
		Comments:      []domain.Comment{{ID: 1}},
		CommentTotal:  1,
		CommentTarget: 1,
		CommentStop:   "coverage",
	}
	if err := NewNATSSink(nc).Record(context.Background(), rep); err != nil {
		t.Fatalf("Record: %v", err)
	}
	select {
	case ev := <-got:
		if ev.BVID != bvid || ev.OID != 7 || ev.ArchivePath != rep.ArchivePath || ev.CommentStop != "coverage" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

type savedThread struct {
	detail   domain.VideoDetail
	comments []domain.Comment
}

type fakeSaver struct{ saved []savedThread }

func (f *fakeSaver) SaveThread(_ context.Context, d domain.VideoDetail, cs []domain.Comment) error {
	f.saved = append(f.saved, savedThread{d, cs})
	return nil
}

func TestGraphSink_SavesCommentTree(t *testing.T) {
	saver := &fakeSaver{}
	rep := Report{
		Detail:   domain.VideoDetail{VideoResource: domain.VideoResource{BVID: bvid}},
		Comments: []domain.Comment{{ID: 1, Children: []domain.Comment{{ID: 2}}}},
	}
	if err := NewGraphSink(saver).Record(context.Background(), rep); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(saver.saved) != 1 || saver.saved[0].detail.BVID != bvid || len(saver.saved[0].comments) != 1 {
		t.Fatalf("unexpected saves %+v", saver.saved)
	}
}

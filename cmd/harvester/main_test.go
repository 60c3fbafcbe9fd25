package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/ledger"
	"github.com/WessleyAI/bili-harvest/engine/queue"
	"github.com/WessleyAI/bili-harvest/pkg/config"
	"github.com/WessleyAI/bili-harvest/pkg/dedup"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestPacingOverridesPresets(t *testing.T) {
	page, segment, retry := pacing(config.Pacing{
		PageBase:    time.Millisecond,
		SegmentBase: 2 * time.Millisecond,
		RetryBase:   3 * time.Millisecond,
		Jitter:      4 * time.Millisecond,
	})
	if page.Base != time.Millisecond || segment.Base != 2*time.Millisecond || retry.Base != 3*time.Millisecond {
		t.Fatalf("bases not applied: %v %v %v", page.Base, segment.Base, retry.Base)
	}
	if page.Jitter != 4*time.Millisecond || segment.Jitter != 4*time.Millisecond {
		t.Fatalf("jitter not applied: %v %v", page.Jitter, segment.Jitter)
	}
	if page.Every == 0 || retry.Every != 0 {
		t.Fatalf("rate limits changed: page=%v retry=%v", page.Every, retry.Every)
	}
}

func TestHarvestOptionsCarryFractions(t *testing.T) {
	cfg := config.Default()
	cfg.CommentFraction = 0.5
	opts := harvestOptions(cfg, zap.NewNop().Sugar())
	if opts.Comments.Fraction != 0.5 || opts.Danmaku.Fraction != 0.8 || opts.OutputDir != "output" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Comments.Pacer == nil || opts.Comments.RetryPacer == nil || opts.Danmaku.Pacer == nil {
		t.Fatal("pacers not set")
	}
}

func TestSubmitParsesInput(t *testing.T) {
	got := make(chan string, 2)
	q := queue.New(context.Background(), func(_ context.Context, key string) error {
		got <- key
		return nil
	}, queue.Options{})
	log := zap.NewNop().Sugar()

	submit(q, "https://www.bilibili.com/video/BV1xx411c7mD?p=1", "", log)
	q.Wait()
	submit(q, "garbage", "", log)
	submit(q, "", "BV1yy411c7mE", log)
	q.Wait()

	close(got)
	var keys []string
	for k := range got {
		keys = append(keys, k)
	}
	if strings.Join(keys, ",") != "BV1xx411c7mD,BV1yy411c7mE" {
		t.Fatalf("unexpected runs %v", keys)
	}
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	runs := []ledger.Run{{
		BVID: "BV1xx411c7mD", Status: ledger.StatusDone, Title: "demo",
		CommentTotal: 9, CommentTarget: 9, DanmakuCount: 80, DanmakuTarget: 80,
		StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	if err := printRuns(&buf, runs); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"STATUS", "2024-01-02 03:04:05", "BV1xx411c7mD", "done", "9/9", "80/80", "demo"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestForgetDropsArchiveAndIndexes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archive := filepath.Join(dir, "demo-1", "bilibili_all.txt")
	comments := filepath.Join(dir, "demo-1", "bilibili_comment.txt")
	os.MkdirAll(filepath.Dir(archive), 0o755)
	os.WriteFile(archive, []byte("done"), 0o644)
	os.WriteFile(comments, []byte("c"), 0o644)

	store, err := ledger.Open(ctx, filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()
	id, _ := store.StartRun(ctx, "BV1xx411c7mD")
	store.FinishRun(ctx, ledger.Run{ID: id, ArchivePath: archive})

	mr := miniredis.RunT(t)
	marker := dedup.NewMarker(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	defer marker.Close()
	marker.Mark(ctx, "BV1xx411c7mD", archive)

	if err := forget(ctx, "BV1xx411c7mD", []archiveIndex{store, marker}, zap.NewNop().Sugar()); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Fatal("archive should be removed")
	}
	if _, err := os.Stat(comments); err != nil {
		t.Fatalf("other artifacts must stay: %v", err)
	}
	if p, _ := store.Lookup(ctx, "BV1xx411c7mD"); p != "" {
		t.Fatalf("ledger still knows %q", p)
	}
	if p, _ := marker.Lookup(ctx, "BV1xx411c7mD"); p != "" {
		t.Fatalf("marker still knows %q", p)
	}
}

func TestForgetNeedsAnIndex(t *testing.T) {
	if err := forget(context.Background(), "BV1xx411c7mD", nil, zap.NewNop().Sugar()); err == nil {
		t.Fatal("expected error without indexes")
	}
}

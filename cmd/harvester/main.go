// Command harvester collects the comments, danmaku and subtitles of Bilibili
// videos into per-video archives.
//
// Usage:
//
//	harvester [flags] [BV id or video URL]
//	harvester -serve
//	harvester -list
//	harvester -forget [BV id or video URL]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/bilibili"
	"github.com/WessleyAI/bili-harvest/engine/comments"
	"github.com/WessleyAI/bili-harvest/engine/control"
	"github.com/WessleyAI/bili-harvest/engine/danmaku"
	"github.com/WessleyAI/bili-harvest/engine/domain"
	"github.com/WessleyAI/bili-harvest/engine/graph"
	"github.com/WessleyAI/bili-harvest/engine/harvest"
	"github.com/WessleyAI/bili-harvest/engine/ledger"
	"github.com/WessleyAI/bili-harvest/engine/queue"
	"github.com/WessleyAI/bili-harvest/pkg/config"
	"github.com/WessleyAI/bili-harvest/pkg/dedup"
	"github.com/WessleyAI/bili-harvest/pkg/logging"
	"github.com/WessleyAI/bili-harvest/pkg/metrics"
	"github.com/WessleyAI/bili-harvest/pkg/natsutil"
	"github.com/WessleyAI/bili-harvest/pkg/resilience"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type flags struct {
	config string
	serve  bool
	list   bool
	forget bool
	limit  int
	target string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "YAML config file (default $HARVEST_CONFIG)")
	flag.BoolVar(&f.serve, "serve", false, "run the control server and consume submissions")
	flag.BoolVar(&f.list, "list", false, "print the run history and exit")
	flag.BoolVar(&f.forget, "forget", false, "drop the recorded archive of the video so the next run collects it again")
	flag.IntVar(&f.limit, "limit", 20, "rows printed by -list")
	flag.Parse()
	f.target = flag.Arg(0)

	cfg, err := config.Load(f.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	zl, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer zl.Sync()
	log := zl.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f, log); err != nil {
		log.Errorw("harvester exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, f flags, log *zap.SugaredLogger) error {
	var store *ledger.Store
	if cfg.LedgerPath != "" {
		s, err := ledger.Open(ctx, cfg.LedgerPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer s.Close()
		store = s
	}

	if f.list {
		if store == nil {
			return errors.New("-list needs a ledger_path")
		}
		runs, err := store.ListRuns(ctx, f.limit)
		if err != nil {
			return err
		}
		return printRuns(os.Stdout, runs)
	}

	reg := metrics.New()
	m := harvest.NewMetrics(reg)
	opts := harvestOptions(cfg, log)
	opts.Metrics = m
	var indexes []archiveIndex
	if store != nil {
		opts.Ledger = store
		indexes = append(indexes, store)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		marker := dedup.NewMarker(rdb, 0)
		defer marker.Close()
		indexes = append(indexes, marker)
		opts.Sinks = append(opts.Sinks, harvest.NewMarkSink(marker))
		log.Infow("connected to Redis", "addr", cfg.RedisAddr)
	}

	if f.forget {
		bvid, err := domain.ParseBVID(f.target, cfg.Resource)
		if err != nil {
			return err
		}
		return forget(ctx, bvid, indexes, log)
	}
	for _, idx := range indexes {
		opts.Indexes = append(opts.Indexes, idx)
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		conn, err := natsutil.Connect(cfg.NATSURL, "bili-harvest")
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer conn.Drain()
		nc = conn
		opts.Sinks = append(opts.Sinks, harvest.NewNATSSink(nc))
		log.Infow("connected to NATS", "url", cfg.NATSURL)
	}

	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j verify: %w", err)
		}
		opts.Sinks = append(opts.Sinks, harvest.NewGraphSink(graph.New(driver)))
		log.Infow("connected to Neo4j", "url", cfg.Neo4jURL)
	}

	client := bilibili.NewClient(bilibili.Config{BaseURL: cfg.BaseURL, Cookie: cfg.Cookie})
	h := harvest.New(client, opts)

	if !f.serve {
		bvid, err := domain.ParseBVID(f.target, cfg.Resource)
		if err != nil {
			return err
		}
		return h.Run(ctx, bvid)
	}

	q := queue.New(ctx, h.Run, queue.Options{Logger: log.Named("queue"), ReadyGauge: m.QueueReady})
	return serve(ctx, cfg, f, q, nc, store, reg, log)
}

func harvestOptions(cfg config.Config, log *zap.SugaredLogger) harvest.Options {
	page, segment, retry := pacing(cfg.Pacing)
	return harvest.Options{
		OutputDir: cfg.OutputDir,
		Comments: comments.Options{
			Fraction:   cfg.CommentFraction,
			Pacer:      resilience.NewPacer(page),
			RetryPacer: resilience.NewPacer(retry),
		},
		Danmaku: danmaku.Options{
			Fraction: cfg.DanmakuFraction,
			Pacer:    resilience.NewPacer(segment),
		},
		Logger: log,
	}
}

// pacing applies configured delays over the presets.
func pacing(p config.Pacing) (page, segment, retry resilience.PacerOpts) {
	page, segment, retry = resilience.PagePacing, resilience.SegmentPacing, resilience.RetryPacing
	page.Base, segment.Base, retry.Base = p.PageBase, p.SegmentBase, p.RetryBase
	page.Jitter, segment.Jitter = p.Jitter, p.Jitter
	return page, segment, retry
}

func serve(ctx context.Context, cfg config.Config, f flags, q *queue.Queue, nc *nats.Conn, store *ledger.Store, reg *metrics.Registry, log *zap.SugaredLogger) error {
	if nc != nil {
		sub, err := natsutil.Subscribe(nc, harvest.SubjectRequests, func(_ context.Context, req harvest.Request) {
			submit(q, req.BVID, "", log)
		}, func(msg *nats.Msg, err error) {
			log.Warnw("bad harvest request", "subject", msg.Subject, "err", err)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", harvest.SubjectRequests, err)
		}
		defer sub.Unsubscribe()
	}
	if f.target != "" || cfg.Resource != "" {
		submit(q, f.target, cfg.Resource, log)
	}

	copts := control.Options{CORSOrigin: cfg.CORSOrigin, Metrics: reg.Handler(), Logger: log.Named("http")}
	if store != nil {
		copts.Runs = store
	}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      control.NewHandler(q, copts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("control server starting", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutCtx)
	q.Wait()
	return err
}

func submit(q *queue.Queue, input, fallback string, log *zap.SugaredLogger) {
	bvid, err := domain.ParseBVID(input, fallback)
	if err != nil {
		log.Warnw("ignoring submission", "input", input, "err", err)
		return
	}
	q.Submit(bvid)
}

// archiveIndex is a harvest.Index whose entries can be dropped.
type archiveIndex interface {
	harvest.Index
	Forget(ctx context.Context, bvid string) error
}

// forget removes the recorded archives of bvid and their index entries. The
// other artifacts stay on disk and are reused by the next run.
func forget(ctx context.Context, bvid string, indexes []archiveIndex, log *zap.SugaredLogger) error {
	if len(indexes) == 0 {
		return errors.New("-forget needs a ledger_path or redis_addr")
	}
	removed := map[string]bool{}
	for _, idx := range indexes {
		path, err := idx.Lookup(ctx, bvid)
		if err != nil {
			return err
		}
		if path != "" && !removed[path] {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove archive: %w", err)
			}
			removed[path] = true
			log.Infow("archive removed", "bvid", bvid, "path", path)
		}
		if err := idx.Forget(ctx, bvid); err != nil {
			return err
		}
	}
	if len(removed) == 0 {
		log.Infow("no recorded archive", "bvid", bvid)
	}
	return nil
}

func printRuns(w io.Writer, runs []ledger.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tBVID\tSTATUS\tCOMMENTS\tDANMAKU\tTITLE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d/%d\t%s\n",
			r.StartedAt.Format(time.DateTime), r.BVID, r.Status,
			r.CommentTotal, r.CommentTarget, r.DanmakuCount, r.DanmakuTarget, r.Title)
	}
	return tw.Flush()
}

// Package archive lays out and writes the per-video artifacts: detail JSON,
// comment text, danmaku text, subtitles and the combined archive.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"go.uber.org/zap"
)

// Inputs supplies the collected data lazily so that nothing is fetched for
// artifacts that already exist. A nil func yields no data. Errors are logged
// and the artifact is written from whatever data came back, unless ctx was
// canceled meanwhile.
type Inputs struct {
	Danmaku   func(ctx context.Context) ([]domain.DanmakuEntry, error)
	Subtitles func(ctx context.Context) ([]domain.SubtitleLine, error)
	Comments  func(ctx context.Context) ([]domain.Comment, error)
}

// Outcome describes what Assemble did.
type Outcome struct {
	Dir         string
	ArchivePath string
	// Skipped is true when the archive already existed and nothing ran.
	Skipped bool
	// Reused lists sub-artifacts read back from a previous partial run.
	Reused []string
}

// Assembler writes artifacts under a base directory.
type Assembler struct {
	base string
	log  *zap.SugaredLogger
}

// NewAssembler creates an Assembler rooted at base.
func NewAssembler(base string, log *zap.SugaredLogger) *Assembler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Assembler{base: base, log: log}
}

// ArchivePath is where the combined archive for d lives.
func (a *Assembler) ArchivePath(d domain.VideoDetail) string {
	return filepath.Join(Dir(a.base, d), ArchiveFile)
}

// Assemble writes every artifact for d. Disk failures are returned, and so is
// cancellation of ctx: a canceled collection leaves its artifact and the
// archive unwritten so that the next run collects it again.
func (a *Assembler) Assemble(ctx context.Context, d domain.VideoDetail, in Inputs) (Outcome, error) {
	dir := Dir(a.base, d)
	out := Outcome{Dir: dir, ArchivePath: filepath.Join(dir, ArchiveFile)}

	if exists(out.ArchivePath) {
		a.log.Infow("archive exists, skipping", "bvid", d.BVID, "path", out.ArchivePath)
		out.Skipped = true
		return out, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return out, fmt.Errorf("create output dir: %w", err)
	}

	pretty, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return out, fmt.Errorf("encode detail: %w", err)
	}
	var info bytes.Buffer
	if err := json.Compact(&info, pretty); err != nil {
		return out, fmt.Errorf("encode detail: %w", err)
	}
	if err := writeFile(filepath.Join(dir, DetailFile), pretty); err != nil {
		return out, err
	}

	danmakuText, reused, err := a.reuseOr(ctx, filepath.Join(dir, DanmakuFile), func(ctx context.Context) (string, bool, error) {
		es, err := load(ctx, a.log, "danmaku", in.Danmaku)
		return FormatDanmaku(es), true, err
	})
	if err != nil {
		return out, err
	}
	if reused {
		out.Reused = append(out.Reused, DanmakuFile)
	}

	subtitleText, reused, err := a.reuseOr(ctx, filepath.Join(dir, SubtitlesFile), func(ctx context.Context) (string, bool, error) {
		lines, err := load(ctx, a.log, "subtitles", in.Subtitles)
		return ToSRT(lines), len(lines) > 0, err
	})
	if err != nil {
		return out, err
	}
	if reused {
		out.Reused = append(out.Reused, SubtitlesFile)
	}

	cs, err := load(ctx, a.log, "comments", in.Comments)
	if err != nil {
		return out, err
	}
	commentText := FormatComments(cs)
	if err := writeFile(filepath.Join(dir, CommentFile), []byte(commentText)); err != nil {
		return out, err
	}

	merged := Merge(info.String(), danmakuText, subtitleText, commentText)
	if err := writeAtomic(out.ArchivePath, []byte(merged)); err != nil {
		return out, err
	}
	a.log.Infow("archive written", "bvid", d.BVID, "path", out.ArchivePath)
	return out, nil
}

// reuseOr returns the content of path when it exists. Otherwise it renders
// the artifact and writes it when render reports it has content.
func (a *Assembler) reuseOr(ctx context.Context, path string, render func(context.Context) (string, bool, error)) (string, bool, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		a.log.Infow("artifact exists, reusing", "path", path)
		return string(b), true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	text, keep, err := render(ctx)
	if err != nil {
		return "", false, err
	}
	if !keep {
		return text, false, nil
	}
	if err := writeFile(path, []byte(text)); err != nil {
		return "", false, err
	}
	return text, false, nil
}

// load runs f. A collection error is logged and the partial data kept; only a
// done ctx is returned as an error.
func load[T any](ctx context.Context, log *zap.SugaredLogger, what string, f func(context.Context) ([]T, error)) ([]T, error) {
	if f == nil {
		return nil, nil
	}
	v, err := f(ctx)
	if cerr := ctx.Err(); cerr != nil {
		log.Warnw("collecting "+what+" canceled, nothing written", "count", len(v))
		return nil, fmt.Errorf("collect %s: %w", what, cerr)
	}
	if err != nil {
		log.Warnw("collecting "+what+" failed, writing partial data", "err", err, "count", len(v))
	}
	return v, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFile(path string, b []byte) error {
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeAtomic writes through a temp file; an archive on disk is always complete.
func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := writeFile(tmp, b); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

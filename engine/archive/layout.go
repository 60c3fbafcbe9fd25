package archive

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/WessleyAI/bili-harvest/engine/domain"
)

// Artifact file names inside a resource directory.
const (
	DetailFile    = "bilibili_detail.json"
	CommentFile   = "bilibili_comment.txt"
	DanmakuFile   = "bilibili_danmaku.txt"
	SubtitlesFile = "subtitles.txt"
	ArchiveFile   = "bilibili_all.txt"
)

var unsafeChars = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFilename replaces characters not allowed in file names.
func SanitizeFilename(name string) string {
	return unsafeChars.Replace(name)
}

// Dir is <base>/<sanitized title>-<oid>.
func Dir(base string, d domain.VideoDetail) string {
	return filepath.Join(base, SanitizeFilename(d.Title)+"-"+strconv.FormatInt(d.OID, 10))
}

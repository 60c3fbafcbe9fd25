package archive

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/domain"
)

const childPrefix = "  └─ "

var lineTerminators = strings.NewReplacer("\u2028", " ", "\u2029", " ")

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func formatTimestamp(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04:05")
}

// FormatComments renders each top-level comment followed by its replies
// indented one level. Threads are separated by a blank line.
func FormatComments(cs []domain.Comment) string {
	blocks := make([]string, 0, len(cs))
	for _, c := range cs {
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s: time-%s: content-%s: likes-%d: replies-%d: location-%s: posted-%s",
			c.Author, orUnknown(c.AuthorSex), formatTimestamp(c.Timestamp),
			lineTerminators.Replace(c.Content), c.Likes, c.ReplyCount,
			orUnknown(c.Location), orUnknown(c.TimeDesc))
		for _, ch := range c.Children {
			fmt.Fprintf(&b, "\n%s%s: %s: time-%s: content-%s: likes-%d: location-%s: posted-%s",
				childPrefix, ch.Author, orUnknown(ch.AuthorSex), formatTimestamp(ch.Timestamp),
				lineTerminators.Replace(ch.Content), ch.Likes,
				orUnknown(ch.Location), orUnknown(ch.TimeDesc))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// clock formats seconds as HH:MM:SS.
func clock(seconds float64) string {
	s := int64(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}

// FormatDanmaku renders entries one per line in the order given.
func FormatDanmaku(es []domain.DanmakuEntry) string {
	lines := make([]string, 0, len(es))
	for _, e := range es {
		lines = append(lines, fmt.Sprintf("[%s] %s (sender: %s, type: %s)",
			clock(e.TimeOffset), lineTerminators.Replace(e.Content), e.SenderAlias, e.TypeLabel))
	}
	return strings.Join(lines, "\n")
}

func srtTime(seconds float64) string {
	ms := int64(math.Floor(seconds * 1000))
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, ms%3600000/60000, ms%60000/1000, ms%1000)
}

// ToSRT converts subtitle cues to SRT text.
func ToSRT(lines []domain.SubtitleLine) string {
	cues := make([]string, 0, len(lines))
	for i, l := range lines {
		cues = append(cues, fmt.Sprintf("%d\n%s --> %s\n%s\n", i+1, srtTime(l.From), srtTime(l.To), l.Content))
	}
	return strings.Join(cues, "\n")
}

// Merge builds the combined archive text with one tagged section per artifact.
func Merge(info, danmaku, subtitles, comments string) string {
	return "<video_info>\n" + info + "\n</video_info>\n\n" +
		"<video_danmaku>\n" + danmaku + "\n</video_danmaku>\n\n" +
		"<video_subtitles>\n" + subtitles + "\n</video_subtitles>\n\n" +
		"<video_comments>\n" + comments + "\n</video_comments>"
}

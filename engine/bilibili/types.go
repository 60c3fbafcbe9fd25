package bilibili

import (
	"encoding/json"
	"strings"

	"github.com/WessleyAI/bili-harvest/engine/domain"
)

// API response types

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type viewData struct {
	Bvid     string `json:"bvid"`
	Aid      int64  `json:"aid"`
	Cid      int64  `json:"cid"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Duration int64  `json:"duration"`
	Pubdate  int64  `json:"pubdate"`
	Owner    struct {
		Name string `json:"name"`
	} `json:"owner"`
	Stat domain.Stats `json:"stat"`
}

func (v viewData) toDomain() domain.VideoDetail {
	return domain.VideoDetail{
		VideoResource: domain.VideoResource{BVID: v.Bvid, OID: v.Aid, CID: v.Cid},
		Title:         v.Title,
		Description:   v.Desc,
		OwnerName:     v.Owner.Name,
		Duration:      v.Duration,
		PublishedAt:   v.Pubdate,
		Stats:         v.Stat,
	}
}

type replyData struct {
	Replies []reply `json:"replies"`
}

type reply struct {
	Rpid    int64 `json:"rpid"`
	Rcount  int   `json:"rcount"`
	Ctime   int64 `json:"ctime"`
	Like    int64 `json:"like"`
	Content struct {
		Message string `json:"message"`
	} `json:"content"`
	Member struct {
		Uname string `json:"uname"`
		Sex   string `json:"sex"`
	} `json:"member"`
	ReplyControl struct {
		Location string `json:"location"`
		TimeDesc string `json:"time_desc"`
	} `json:"reply_control"`
}

func (r reply) toDomain() domain.Comment {
	return domain.Comment{
		ID:         r.Rpid,
		Author:     r.Member.Uname,
		AuthorSex:  r.Member.Sex,
		Content:    r.Content.Message,
		Timestamp:  r.Ctime,
		Likes:      r.Like,
		ReplyCount: r.Rcount,
		Location:   strings.TrimPrefix(r.ReplyControl.Location, "IP属地："),
		TimeDesc:   r.ReplyControl.TimeDesc,
	}
}

func (d replyData) toDomain() []domain.Comment {
	out := make([]domain.Comment, 0, len(d.Replies))
	for _, r := range d.Replies {
		out = append(out, r.toDomain())
	}
	return out
}

type playerData struct {
	Subtitle subtitleList `json:"subtitle"`
}

type subtitleList struct {
	Subtitles []struct {
		Lan         string `json:"lan"`
		LanDoc      string `json:"lan_doc"`
		SubtitleURL string `json:"subtitle_url"`
	} `json:"subtitles"`
}

// pick returns the URL of the first track whose language contains lang.
func (l subtitleList) pick(lang string) string {
	for _, s := range l.Subtitles {
		if strings.Contains(s.Lan, lang) && s.SubtitleURL != "" {
			return s.SubtitleURL
		}
	}
	return ""
}

type subtitleDoc struct {
	Body []domain.SubtitleLine `json:"body"`
}

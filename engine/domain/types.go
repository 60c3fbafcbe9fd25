// Package domain holds the data model shared by the collectors, the
// assembler and the sinks.
package domain

// VideoResource identifies one collection target. OID and CID are resolved
// once from the detail fetch and passed explicitly to every later call.
type VideoResource struct {
	BVID string `json:"bvid"`
	OID  int64  `json:"oid"`
	CID  int64  `json:"cid"`
}

// Stats are the upstream counters reported with the video detail.
type Stats struct {
	View     int64 `json:"view"`
	Danmaku  int64 `json:"danmaku"`
	Reply    int64 `json:"reply"`
	Favorite int64 `json:"favorite"`
	Coin     int64 `json:"coin"`
	Share    int64 `json:"share"`
	Like     int64 `json:"like"`
}

// VideoDetail is the metadata persisted as the detail artifact.
type VideoDetail struct {
	VideoResource
	Title       string `json:"title"`
	Description string `json:"desc"`
	OwnerName   string `json:"owner"`
	Duration    int64  `json:"duration"`
	PublishedAt int64  `json:"pubdate"`
	Stats       Stats  `json:"stat"`
}

// Resource returns the identifiers every paginated fetch needs.
func (d VideoDetail) Resource() VideoResource { return d.VideoResource }

// Comment is one node of a comment thread. ReplyCount is the upstream
// reported count and may exceed len(Children).
type Comment struct {
	ID         int64     `json:"id"`
	Author     string    `json:"author"`
	AuthorSex  string    `json:"sex"`
	Content    string    `json:"content"`
	Timestamp  int64     `json:"ctime"`
	Likes      int64     `json:"like"`
	ReplyCount int       `json:"rcount"`
	Location   string    `json:"location,omitempty"`
	TimeDesc   string    `json:"time_desc,omitempty"`
	Children   []Comment `json:"children,omitempty"`
}

// DanmakuAttrs are the decoded bits of the attr bitfield.
type DanmakuAttrs struct {
	Protected bool `json:"protected"`
	Live      bool `json:"live"`
	HighLike  bool `json:"highLike"`
}

// DanmakuEntry is one decoded, pseudonymized chat-overlay entry.
type DanmakuEntry struct {
	ID          string       `json:"id"`
	TimeOffset  float64      `json:"time"`
	Content     string       `json:"content"`
	TypeLabel   string       `json:"type"`
	SenderAlias string       `json:"sender"`
	SendTimeISO string       `json:"sendTime"`
	PoolLabel   string       `json:"pool"`
	Attrs       DanmakuAttrs `json:"attributes"`
}

// SubtitleLine is one cue of an official subtitle track, in seconds.
type SubtitleLine struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Content string  `json:"content"`
}

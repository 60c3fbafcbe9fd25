// Package bilibili is the upstream HTTP client for video detail, comments,
// danmaku segments and subtitles.
package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"github.com/WessleyAI/bili-harvest/pkg/fn"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://api.bilibili.com"

// ReplyPageSize is large enough to fetch a whole thread in one call.
const ReplyPageSize = 50000

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	siteOrigin       = "https://www.bilibili.com"
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Cookie    string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the upstream API. It implements comments.Source and
// danmaku.Source.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a Client whose transport emits OpenTelemetry spans.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Detail fetches the video metadata and resolves oid/cid.
func (c *Client) Detail(ctx context.Context, bvid string) (domain.VideoDetail, error) {
	var v viewData
	q := url.Values{"bvid": {bvid}}
	if err := c.getJSON(ctx, "/x/web-interface/view", q, &v); err != nil {
		return domain.VideoDetail{}, err
	}
	if v.Aid == 0 {
		return domain.VideoDetail{}, fn.Permanent(fmt.Errorf("detail %s: %w", bvid, domain.ErrNotFound))
	}
	return v.toDomain(), nil
}

// MainComments fetches one page of top-level comments. A page without a
// reply list is returned as an empty slice.
func (c *Client) MainComments(ctx context.Context, oid int64, page int) ([]domain.Comment, error) {
	var d replyData
	q := url.Values{
		"mode": {"3"},
		"next": {strconv.Itoa(page)},
		"oid":  {strconv.FormatInt(oid, 10)},
		"plat": {"1"},
		"type": {"1"},
	}
	if err := c.getJSON(ctx, "/x/v2/reply/main", q, &d); err != nil {
		return nil, err
	}
	return d.toDomain(), nil
}

// Replies fetches every reply under root, oldest first.
func (c *Client) Replies(ctx context.Context, oid, root int64) ([]domain.Comment, error) {
	var d replyData
	q := url.Values{
		"oid":  {strconv.FormatInt(oid, 10)},
		"type": {"1"},
		"root": {strconv.FormatInt(root, 10)},
		"ps":   {strconv.Itoa(ReplyPageSize)},
		"pn":   {"1"},
	}
	if err := c.getJSON(ctx, "/x/v2/reply/reply", q, &d); err != nil {
		return nil, err
	}
	return d.toDomain(), nil
}

// Segment fetches the raw body of danmaku segment index (1-based) for cid.
func (c *Client) Segment(ctx context.Context, cid int64, index int) ([]byte, error) {
	q := url.Values{
		"type":          {"1"},
		"oid":           {strconv.FormatInt(cid, 10)},
		"segment_index": {strconv.Itoa(index)},
	}
	body, err := c.httpGet(ctx, c.cfg.BaseURL+"/x/v2/dm/web/seg.so?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Subtitles returns the first Chinese official subtitle track of the video,
// or nil when it has none.
func (c *Client) Subtitles(ctx context.Context, res domain.VideoResource) ([]domain.SubtitleLine, error) {
	var p playerData
	q := url.Values{
		"bvid": {res.BVID},
		"cid":  {strconv.FormatInt(res.CID, 10)},
		"aid":  {strconv.FormatInt(res.OID, 10)},
	}
	if err := c.getJSON(ctx, "/x/player/v2", q, &p); err != nil {
		return nil, err
	}
	track := p.Subtitle.pick("zh")
	if track == "" {
		return nil, nil
	}
	if strings.HasPrefix(track, "//") {
		track = "https:" + track
	}
	body, err := c.httpGet(ctx, track)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	var doc subtitleDoc
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode subtitle: %w", err)
	}
	return doc.Body, nil
}

// getJSON fetches path and decodes the {code, message, data} envelope into data.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, data any) error {
	body, err := c.httpGet(ctx, c.cfg.BaseURL+path+"?"+q.Encode())
	if err != nil {
		return err
	}
	defer body.Close()

	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Code != 0 {
		return fn.Permanent(&domain.UpstreamError{Endpoint: path, Code: env.Code, Message: env.Message})
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}

func (c *Client) httpGet(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", siteOrigin+"/")
	req.Header.Set("Origin", siteOrigin)
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		ue := &domain.UpstreamError{Endpoint: req.URL.Path, Status: resp.StatusCode}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fn.Permanent(ue)
		}
		return nil, ue
	}
	return resp.Body, nil
}

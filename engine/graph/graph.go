// Package graph mirrors harvested comment threads into Neo4j:
// (:Comment)-[:ON]->(:Video) and (:Comment)-[:REPLIES_TO]->(:Comment).
package graph

import (
	"context"
	"fmt"

	"github.com/WessleyAI/bili-harvest/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
	Close(ctx context.Context) error
}

// sessionAdapter adapts neo4j.SessionWithContext to runner. Results are
// consumed so that server-side errors surface on Run.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) error {
	res, err := a.sess.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Store writes comment graphs.
type Store struct {
	driver     neo4j.DriverWithContext
	batchSize  int
	newSession func(ctx context.Context) runner // for testing
}

// New creates a Store on top of driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver, batchSize: DefaultBatchSize}
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})}
}

const (
	mergeVideo = `MERGE (v:Video {bvid: $bvid})
		SET v.oid = $oid, v.cid = $cid, v.title = $title, v.owner = $owner,
		    v.replies = $replies, v.danmaku = $danmaku`

	mergeComments = `UNWIND $rows AS row
		MERGE (c:Comment {id: row.id})
		SET c.author = row.author, c.content = row.content, c.ctime = row.ctime,
		    c.likes = row.likes, c.rcount = row.rcount
		WITH c
		MATCH (v:Video {bvid: $bvid})
		MERGE (c)-[:ON]->(v)`

	mergeReplies = `UNWIND $edges AS e
		MATCH (child:Comment {id: e.child}), (parent:Comment {id: e.parent})
		MERGE (child)-[:REPLIES_TO]->(parent)`
)

// SaveThread upserts the video node, every comment and reply node, and the
// edges between them.
func (s *Store) SaveThread(ctx context.Context, d domain.VideoDetail, cs []domain.Comment) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	err := sess.Run(ctx, mergeVideo, map[string]any{
		"bvid":    d.BVID,
		"oid":     d.OID,
		"cid":     d.CID,
		"title":   d.Title,
		"owner":   d.OwnerName,
		"replies": d.Stats.Reply,
		"danmaku": d.Stats.Danmaku,
	})
	if err != nil {
		return fmt.Errorf("merge video %s: %w", d.BVID, err)
	}

	rows, edges := flatten(cs)
	for _, batch := range chunk(rows, s.batchSize) {
		if err := sess.Run(ctx, mergeComments, map[string]any{"bvid": d.BVID, "rows": batch}); err != nil {
			return fmt.Errorf("merge comments: %w", err)
		}
	}
	for _, batch := range chunk(edges, s.batchSize) {
		if err := sess.Run(ctx, mergeReplies, map[string]any{"edges": batch}); err != nil {
			return fmt.Errorf("merge replies: %w", err)
		}
	}
	return nil
}

// flatten turns the comment tree into node rows and child->parent edges.
func flatten(cs []domain.Comment) ([]any, []any) {
	var rows, edges []any
	for _, c := range cs {
		rows = append(rows, commentRow(c))
		for _, ch := range c.Children {
			rows = append(rows, commentRow(ch))
			edges = append(edges, map[string]any{"child": ch.ID, "parent": c.ID})
		}
	}
	return rows, edges
}

func commentRow(c domain.Comment) map[string]any {
	return map[string]any{
		"id":      c.ID,
		"author":  c.Author,
		"content": c.Content,
		"ctime":   c.Timestamp,
		"likes":   c.Likes,
		"rcount":  int64(c.ReplyCount),
	}
}

func chunk(xs []any, size int) [][]any {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]any
	for len(xs) > 0 {
		n := min(size, len(xs))
		out = append(out, xs[:n])
		xs = xs[n:]
	}
	return out
}

// Package neo4j mirrors collection graphs into Neo4j for exploration with
// the Neo4j browser or Bloom. The mirror is write-only; the narrative graph
// in memory stays the source of truth.
package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

type Config struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
	MaxPool  int
}

// Mirror is an indexer.Sink writing snapshots to Neo4j.
type Mirror struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ indexer.Sink = (*Mirror)(nil)

// NewMirror connects to Neo4j and verifies connectivity.
func NewMirror(ctx context.Context, cfg Config) (*Mirror, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4j: uri is required")
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPool <= 0 {
		cfg.MaxPool = 10
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPool
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return &Mirror{driver: driver, database: cfg.Database}, nil
}

func (m *Mirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

var schema = []string{
	`CREATE CONSTRAINT narrative_entity_key IF NOT EXISTS FOR (e:NarrativeEntity) REQUIRE (e.collection, e.key) IS UNIQUE`,
	`CREATE INDEX narrative_entity_type IF NOT EXISTS FOR (e:NarrativeEntity) ON (e.type)`,
}

// Save replaces the mirrored graph of snap.Collection.
func (m *Mirror) Save(ctx context.Context, snap *indexer.Snapshot) error {
	if snap == nil {
		return nil
	}
	nodes, edges := graphParams(snap.Collection, snap.Graph, snap.CreatedAt)

	session := m.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.database,
	})
	defer session.Close(ctx)

	for _, q := range schema {
		if res, err := session.Run(ctx, q, nil); err != nil {
			logger.Warn("[Neo4j] Schema init failed, continuing", "err", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		statements := []struct {
			cypher string
			params map[string]any
		}{
			{`
MATCH (e:NarrativeEntity {collection: $collection})
DETACH DELETE e
`, map[string]any{"collection": snap.Collection}},
			{`
UNWIND $nodes AS n
MERGE (e:NarrativeEntity {collection: n.collection, key: n.key})
SET e += n
`, map[string]any{"nodes": nodes}},
			{`
UNWIND $edges AS r
MATCH (s:NarrativeEntity {collection: r.collection, key: r.source})
MATCH (t:NarrativeEntity {collection: r.collection, key: r.target})
MERGE (s)-[x:NARRATIVE {relation: r.relation}]->(t)
SET x += r.props
`, map[string]any{"edges": edges}},
		}
		for _, st := range statements {
			res, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: mirror %s: %w", snap.Collection, err)
	}

	logger.Info("[Neo4j] Mirrored graph", "collection", snap.Collection, "nodes", len(nodes), "edges", len(edges))
	return nil
}

// graphParams flattens the graph into Cypher parameters. Neo4j properties
// cannot hold maps, so facts are stored as "attribute: value" strings.
func graphParams(collection string, g common.GraphData, at time.Time) ([]map[string]any, []map[string]any) {
	synced := at.UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		facts := make([]string, 0, len(n.Facts))
		for _, f := range n.Facts {
			facts = append(facts, f.Attribute+": "+f.Value)
		}
		nodes = append(nodes, map[string]any{
			"collection":     collection,
			"key":            n.Key,
			"name":           n.Name,
			"type":           string(n.Type),
			"confidence":     n.Confidence,
			"mentions":       int64(n.Mentions),
			"first_seen_doc": n.FirstSeenDoc,
			"last_seen_doc":  n.LastSeenDoc,
			"aliases":        nonNil(n.Aliases),
			"docs":           nonNil(n.Docs),
			"facts":          facts,
			"synced_at":      synced,
		})
	}

	edges := make([]map[string]any, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, map[string]any{
			"collection": collection,
			"source":     e.Source,
			"target":     e.Target,
			"relation":   string(e.Relation),
			"props": map[string]any{
				"confidence": e.Confidence,
				"snippets":   nonNil(e.Snippets),
				"docs":       nonNil(e.Docs),
				"seq":        e.Seq,
				"synced_at":  synced,
			},
		})
	}
	return nodes, edges
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

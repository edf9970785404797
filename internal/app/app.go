// Package app builds the shared runtime of the server, the worker and the
// CLI from a Config: the AI client, the embedder, storage backends, locks,
// snapshot stores and the per-collection indexer registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/OFFIS-RIT/quill/internal/storage"
	"github.com/OFFIS-RIT/quill/pkg/ai"
	"github.com/OFFIS-RIT/quill/pkg/ai/ollama"
	"github.com/OFFIS-RIT/quill/pkg/ai/openai"
	"github.com/OFFIS-RIT/quill/pkg/chunker"
	"github.com/OFFIS-RIT/quill/pkg/extract"
	"github.com/OFFIS-RIT/quill/pkg/graph"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/leaselock"
	"github.com/OFFIS-RIT/quill/pkg/logger"
	"github.com/OFFIS-RIT/quill/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/quill/pkg/store/pgx"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

const restoreTimeout = 2 * time.Minute

// snapshotStore is both ends of a snapshot backend.
type snapshotStore interface {
	indexer.Sink
	indexer.Source
	Collections(ctx context.Context) ([]string, error)
}

// App holds the long-lived dependencies. Close releases them.
type App struct {
	Config   Config
	AI       ai.GraphAIClient
	Embedder vector.Embedder
	Registry *indexer.Registry

	pool      *pgxpool.Pool
	chunker   *chunker.Chunker
	locker    indexer.DocLocker
	snapshots snapshotStore
	sinks     []indexer.Sink
	closers   []func()
}

// New wires every backend named in cfg. Backends that are configured but
// unreachable are an error; optional ones (Redis, Neo4j) are skipped with a
// warning.
func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = indexer.NewRegistry(a.newIndexer)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	client, err := newAIClient(cfg)
	if err != nil {
		return err
	}
	a.AI = client

	var emb vector.Embedder = vector.HashEmbedder{Dims: cfg.EmbedDim}
	model := "hash"
	if client != nil {
		emb = vector.AIEmbedder{Client: client}
		model = cfg.EmbedModel
	}
	if cfg.RedisAddr != "" {
		rdb, err := vector.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn("[App] Embedding cache disabled", "err", err)
		} else {
			a.closers = append(a.closers, func() { _ = rdb.Close() })
			emb = vector.NewCachedEmbedder(emb, rdb, model, cfg.EmbedCacheTTL)
		}
	}
	a.Embedder = emb

	tok, err := chunker.NewTiktokenTokenizer(cfg.TokenEncoder)
	if err != nil {
		logger.Warn("[App] Token encoder unavailable, counting words", "encoder", cfg.TokenEncoder, "err", err)
		a.chunker = chunker.New(chunker.Options{MaxTokens: cfg.ChunkMaxTokens, OverlapTokens: cfg.ChunkOverlapTokens, Tokenizer: chunker.WordTokenizer{}})
	} else {
		a.chunker = chunker.New(chunker.Options{MaxTokens: cfg.ChunkMaxTokens, OverlapTokens: cfg.ChunkOverlapTokens, Tokenizer: tok})
	}

	if cfg.VectorBackend == "pgvector" || cfg.LockBackend == "lease" {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the pgvector and lease backends")
		}
		if err := pgxstore.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		pool, err := newPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
	}

	switch cfg.LockBackend {
	case "", "memory":
		a.locker = indexer.NewMemoryLocker()
	case "lease":
		a.locker = leaselock.New(a.pool, leaselock.Options{Wait: true, Owner: "quill"})
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
	}

	switch cfg.SnapshotBackend {
	case "", "none":
	case "file":
		fs, err := storage.NewFileStore(cfg.SnapshotPath)
		if err != nil {
			return err
		}
		a.snapshots = fs
	case "s3":
		s3c, err := storage.NewS3Client(ctx)
		if err != nil {
			return err
		}
		if cfg.S3Bucket == "" {
			return errors.New("AWS_BUCKET is required for the s3 snapshot backend")
		}
		a.snapshots = storage.NewS3Store(s3c, cfg.S3Bucket, cfg.S3Prefix)
	default:
		return fmt.Errorf("unknown SNAPSHOT_BACKEND %q", cfg.SnapshotBackend)
	}
	if a.snapshots != nil {
		a.sinks = append(a.sinks, a.snapshots)
	}

	if cfg.Neo4jURI != "" {
		mirror, err := neo4j.NewMirror(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			logger.Warn("[App] Neo4j mirror disabled", "err", err)
		} else {
			a.sinks = append(a.sinks, mirror)
			a.closers = append(a.closers, func() { _ = mirror.Close(context.Background()) })
		}
	}

	logger.Info("[App] Runtime ready",
		"ai", cfg.AIAdapter,
		"vector", cfg.VectorBackend,
		"locks", cfg.LockBackend,
		"snapshots", cfg.SnapshotBackend,
		"sinks", len(a.sinks),
	)
	return nil
}

func newAIClient(cfg Config) (ai.GraphAIClient, error) {
	switch strings.ToLower(cfg.AIAdapter) {
	case "", "none":
		return nil, nil
	case "openai":
		return openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
			EmbeddingModel:        cfg.EmbedModel,
			DescriptionModel:      cfg.DescribeModel,
			ExtractionModel:       cfg.ExtractModel,
			EmbeddingDim:          cfg.EmbedDim,
			EmbeddingURL:          cfg.EmbedURL,
			EmbeddingKey:          cfg.EmbedKey,
			ChatURL:               cfg.ChatURL,
			ChatKey:               cfg.ChatKey,
			MaxConcurrentRequests: int64(cfg.ParallelAIReq),
			Timeout:               cfg.AITimeout,
		}), nil
	case "ollama":
		return ollama.NewGraphOllamaClient(ollama.NewGraphOllamaClientParams{
			EmbeddingModel:        cfg.EmbedModel,
			DescriptionModel:      cfg.DescribeModel,
			ExtractionModel:       cfg.ExtractModel,
			EmbeddingDim:          cfg.EmbedDim,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			Encoder:               cfg.TokenEncoder,
			MaxConcurrentRequests: int64(cfg.ParallelAIReq),
			Timeout:               cfg.AITimeout,
		})
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", cfg.AIAdapter)
	}
}

func newPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	pgCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// newIndexer is the registry factory. It restores the latest snapshot of
// the collection when a snapshot backend is configured.
func (a *App) newIndexer(collection string) (*indexer.Indexer, error) {
	cfg := a.Config

	var index vector.Index
	if a.pool != nil && cfg.VectorBackend == "pgvector" {
		index = pgxstore.NewChunkIndex(a.pool, collection, a.Embedder)
	} else {
		index = vector.NewMemoryIndex(a.Embedder)
	}

	var ex indexer.Extractor
	if a.AI != nil {
		ex = extract.New(a.AI, extract.Options{Timeout: cfg.ExtractTimeout, MaxRetries: cfg.ExtractMaxRetries})
	}

	idx, err := indexer.New(indexer.Config{
		Collection:          collection,
		Chunker:             a.chunker,
		Index:               index,
		Graph:               graph.New(),
		Extractor:           ex,
		AI:                  a.AI,
		Locker:              a.locker,
		Sinks:               a.sinks,
		Aliases:             cfg.Aliases,
		ParallelDocs:        cfg.ParallelDocs,
		ParallelExtractions: cfg.ParallelAIReq,
		PathDepth:           cfg.PathMaxDepth,
		PathTopK:            cfg.PathTopK,
		LLMConsistency:      cfg.LLMConsistency,
		LLMSuggestions:      cfg.LLMSuggestions,
	})
	if err != nil {
		return nil, err
	}

	if a.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		snap, err := a.snapshots.Load(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("load snapshot of %s: %w", collection, err)
		}
		if err := idx.Restore(ctx, snap); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// RestoreAll builds the indexer of every collection that has a snapshot.
func (a *App) RestoreAll(ctx context.Context) error {
	if a.snapshots == nil {
		return nil
	}
	names, err := a.snapshots.Collections(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	for _, name := range names {
		if _, err := a.Registry.Get(name); err != nil {
			logger.Error("[App] Failed to restore collection", "collection", name, "err", err)
		}
	}
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

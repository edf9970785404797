package app

import (
	"time"

	"github.com/OFFIS-RIT/quill/internal/util"
	"github.com/OFFIS-RIT/quill/pkg/chunker"
	"github.com/OFFIS-RIT/quill/pkg/extract"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/query"
)

// Config is the process configuration, read from the environment by
// ConfigFromEnv.
type Config struct {
	AIAdapter      string
	EmbedModel     string
	EmbedURL       string
	EmbedKey       string
	EmbedDim       int
	ExtractModel   string
	DescribeModel  string
	ChatURL        string
	ChatKey        string
	ParallelAIReq  int
	AITimeout      time.Duration
	TokenEncoder   string
	LLMConsistency bool
	LLMSuggestions bool

	ChunkMaxTokens     int
	ChunkOverlapTokens int
	ExtractTimeout     time.Duration
	ExtractMaxRetries  int
	ParallelDocs       int
	PathMaxDepth       int
	PathTopK           int

	VectorBackend string
	DatabaseURL   string
	LockBackend   string

	RedisAddr     string
	RedisPassword string
	EmbedCacheTTL time.Duration

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	SnapshotBackend string
	SnapshotPath    string
	S3Bucket        string
	S3Prefix        string

	Aliases map[string]string
}

func ConfigFromEnv() Config {
	return Config{
		AIAdapter:      util.GetEnvString("AI_ADAPTER", "none"),
		EmbedModel:     util.GetEnv("AI_EMBED_MODEL"),
		EmbedURL:       util.GetEnv("AI_EMBED_URL"),
		EmbedKey:       util.GetEnv("AI_EMBED_KEY"),
		EmbedDim:       int(util.GetEnvNumeric("AI_EMBED_DIM", 0)),
		ExtractModel:   util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		DescribeModel:  util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
		ChatURL:        util.GetEnv("AI_CHAT_URL"),
		ChatKey:        util.GetEnv("AI_CHAT_KEY"),
		ParallelAIReq:  util.GetEnvInt("AI_PARALLEL_REQ", indexer.DefaultParallelExtractions),
		AITimeout:      util.GetEnvDuration("AI_TIMEOUT_MIN", 10, time.Minute),
		TokenEncoder:   util.GetEnvString("TOKEN_ENCODER", chunker.DefaultEncoding),
		LLMConsistency: util.GetEnvBool("LLM_CONSISTENCY", false),
		LLMSuggestions: util.GetEnvBool("LLM_SUGGESTIONS", false),

		ChunkMaxTokens:     util.GetEnvInt("CHUNK_MAX_TOKENS", chunker.DefaultMaxTokens),
		ChunkOverlapTokens: util.GetEnvInt("CHUNK_OVERLAP_TOKENS", chunker.DefaultOverlapTokens),
		ExtractTimeout:     util.GetEnvDuration("EXTRACT_TIMEOUT_SECONDS", int(extract.DefaultTimeout/time.Second), time.Second),
		ExtractMaxRetries:  int(util.GetEnvNumeric("EXTRACT_MAX_RETRIES", extract.DefaultMaxRetries)),
		ParallelDocs:       util.GetEnvInt("INDEX_PARALLEL_DOCS", indexer.DefaultParallelDocs),
		PathMaxDepth:       util.GetEnvInt("PATH_MAX_DEPTH", query.DefaultMaxDepth),
		PathTopK:           util.GetEnvInt("PATH_TOP_K", query.DefaultTopK),

		VectorBackend: util.GetEnvString("VECTOR_BACKEND", "memory"),
		DatabaseURL:   util.GetEnv("DATABASE_URL"),
		LockBackend:   util.GetEnvString("LOCK_BACKEND", "memory"),

		RedisAddr:     util.GetEnv("REDIS_ADDR"),
		RedisPassword: util.GetEnv("REDIS_PASSWORD"),
		EmbedCacheTTL: util.GetEnvDuration("EMBED_CACHE_TTL_HOURS", 24*7, time.Hour),

		Neo4jURI:      util.GetEnv("NEO4J_URI"),
		Neo4jUser:     util.GetEnvString("NEO4J_USER", "neo4j"),
		Neo4jPassword: util.GetEnv("NEO4J_PASSWORD"),
		Neo4jDatabase: util.GetEnv("NEO4J_DATABASE"),

		SnapshotBackend: util.GetEnvString("SNAPSHOT_BACKEND", "none"),
		SnapshotPath:    util.GetEnvString("SNAPSHOT_PATH", ".quill"),
		S3Bucket:        util.GetEnv("AWS_BUCKET"),
		S3Prefix:        util.GetEnvString("AWS_PREFIX", "snapshots"),

		Aliases: util.GetEnvMap("ALIASES"),
	}
}

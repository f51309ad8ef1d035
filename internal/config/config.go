package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted for provider credentials. Keys are never
// stored in the config file.
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvDataDir      = "EVIDENCE_DATA_DIR"
)

// Config is the full configuration surface of the retrieval engine. All
// fields have working defaults; a config file only overrides.
type Config struct {
	// DataDir holds the SQLite database and the vector index artifacts.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Provider   ProviderConfig   `yaml:"provider"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Lexical    LexicalConfig    `yaml:"lexical"`
	RRF        RRFConfig        `yaml:"rrf"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Corrective CorrectiveConfig `yaml:"corrective"`
}

// ProviderConfig selects the embedding/judge backends.
type ProviderConfig struct {
	// Embedding provider: "openai", "jina", "local" or "" (auto-detect
	// from available API keys; disabled when none are set).
	Embedding string `yaml:"embedding"`
	// Judge provider for reranking and query rewriting: "openai" or "".
	Judge          string `yaml:"judge"`
	EmbedModel     string `yaml:"embed_model"`
	JudgeModel     string `yaml:"judge_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// RequestsPerSecond rate-limits outbound provider calls. Zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CacheSize         int     `yaml:"cache_size"`
}

// RetrievalConfig bounds the candidate pipeline of one retrieve call.
type RetrievalConfig struct {
	// OverfetchMultiplier scales top_k into the per-source candidate pool.
	OverfetchMultiplier int `yaml:"overfetch_multiplier"`
	// MaxCandidateK caps the per-source candidate pool regardless of top_k.
	MaxCandidateK int `yaml:"max_candidate_k"`
}

// LexicalConfig tunes the lexical scorer's retrieval path.
type LexicalConfig struct {
	// RelativeCutoff drops candidates scoring below cutoff*best.
	RelativeCutoff float64 `yaml:"relative_cutoff"`
	// MaxPool caps the prefiltered candidate pool scored per query.
	MaxPool int `yaml:"max_pool"`
}

// RRFConfig parameterizes Reciprocal Rank Fusion.
type RRFConfig struct {
	KConstant      float64 `yaml:"k_constant"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight"`
}

// RerankConfig controls the judge-based second stage.
type RerankConfig struct {
	// Policy: "off", "always" or "auto" (attempt only when the judge
	// reports itself available).
	Policy         string `yaml:"policy"`
	MaxCandidates  int    `yaml:"max_candidates"`
	MaxChars       int    `yaml:"max_chars"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// CorrectiveConfig bounds the retrieve-grade-rewrite loop.
type CorrectiveConfig struct {
	MaxIters     int     `yaml:"max_iters"`
	MinRelevance float64 `yaml:"min_relevance"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Provider: ProviderConfig{
			TimeoutSeconds:    30,
			RequestsPerSecond: 5,
			CacheSize:         10000,
		},
		Retrieval: RetrievalConfig{
			OverfetchMultiplier: 6,
			MaxCandidateK:       120,
		},
		Lexical: LexicalConfig{
			RelativeCutoff: 0.60,
			MaxPool:        1200,
		},
		RRF: RRFConfig{
			KConstant:      60,
			SemanticWeight: 1.0,
			LexicalWeight:  0.85,
		},
		Rerank: RerankConfig{
			Policy:         "auto",
			MaxCandidates:  24,
			MaxChars:       850,
			TimeoutSeconds: 20,
		},
		Corrective: CorrectiveConfig{
			MaxIters:     2,
			MinRelevance: 0.18,
		},
	}
}

// Load reads a YAML config file and applies it over the defaults. An empty
// path returns the defaults with environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}

	cfg.Clamp()
	return cfg, nil
}

// Clamp forces every tunable into its documented bounds. Out-of-range
// values are silently corrected rather than rejected.
func (c *Config) Clamp() {
	if c.Retrieval.OverfetchMultiplier < 2 {
		c.Retrieval.OverfetchMultiplier = 2
	}
	if c.Retrieval.OverfetchMultiplier > 12 {
		c.Retrieval.OverfetchMultiplier = 12
	}
	if c.Retrieval.MaxCandidateK <= 0 {
		c.Retrieval.MaxCandidateK = 120
	}

	if c.Lexical.RelativeCutoff < 0 || c.Lexical.RelativeCutoff > 1 {
		c.Lexical.RelativeCutoff = 0.60
	}
	if c.Lexical.MaxPool <= 0 {
		c.Lexical.MaxPool = 1200
	}

	if c.RRF.KConstant <= 0 {
		c.RRF.KConstant = 60
	}
	if c.RRF.SemanticWeight <= 0 {
		c.RRF.SemanticWeight = 1.0
	}
	if c.RRF.LexicalWeight <= 0 {
		c.RRF.LexicalWeight = 0.85
	}

	switch c.Rerank.Policy {
	case "off", "always", "auto":
	default:
		c.Rerank.Policy = "auto"
	}
	if c.Rerank.MaxCandidates <= 0 {
		c.Rerank.MaxCandidates = 24
	}
	if c.Rerank.MaxChars <= 0 {
		c.Rerank.MaxChars = 850
	}
	if c.Rerank.TimeoutSeconds <= 0 {
		c.Rerank.TimeoutSeconds = 20
	}

	if c.Corrective.MaxIters < 1 {
		c.Corrective.MaxIters = 1
	}
	if c.Corrective.MaxIters > 5 {
		c.Corrective.MaxIters = 5
	}
	if c.Corrective.MinRelevance <= 0 {
		c.Corrective.MinRelevance = 0.18
	}

	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = 30
	}
	if c.Provider.CacheSize <= 0 {
		c.Provider.CacheSize = 10000
	}
}

// DBPath returns the SQLite database location under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "evidence.db")
}

// IndexDir returns the directory holding the vector index artifacts.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".evidence"
	}
	return filepath.Join(home, ".evidence")
}

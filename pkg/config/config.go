package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration. It is built once at startup
// and passed explicitly to every component.
type Config struct {
	Provider    string            `yaml:"provider"`
	Model       string            `yaml:"model"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	Pipeline    string            `yaml:"pipeline"`
	Models      map[string]string `yaml:"models,omitempty"`

	APIKeys   APIKeysConfig   `yaml:"api_keys"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Retry     RetryConfig     `yaml:"retry"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Broker    BrokerConfig    `yaml:"broker"`

	ConfigDir string `yaml:"-"`
}

// APIKeysConfig holds model provider credentials.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
}

// EmbeddingConfig controls document retrieval.
type EmbeddingConfig struct {
	Model        string `yaml:"model"`
	Collection   string `yaml:"collection"`
	TopK         int    `yaml:"top_k"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	// Disabled ranks chunks by term overlap instead of embeddings.
	Disabled bool `yaml:"disabled"`
}

// SearchConfig selects the web search backend.
type SearchConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	BaseBackoffMs int `yaml:"base_backoff_ms"`
	MaxBackoffMs  int `yaml:"max_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// StorageConfig configures run persistence and document storage.
type StorageConfig struct {
	PostgresDSN string   `yaml:"postgres_dsn"`
	S3          S3Config `yaml:"s3"`
}

// S3Config points at an S3-compatible bucket.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// BrokerConfig configures the job queue and outcome events.
type BrokerConfig struct {
	AMQPURL         string   `yaml:"amqp_url"`
	Queue           string   `yaml:"queue"`
	UpdatesExchange string   `yaml:"updates_exchange"`
	KafkaBrokers    []string `yaml:"kafka_brokers"`
	KafkaTopic      string   `yaml:"kafka_topic"`
}

// Providers lists the accepted model providers.
var Providers = []string{"google", "anthropic", "openai", "deepseek", "mock"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:    "google",
		Model:       "gemini-2.5-flash",
		Temperature: 0.5,
		MaxTokens:   4096,
		Pipeline:    "basic",
		Embedding: EmbeddingConfig{
			Model:        "text-embedding-004",
			Collection:   "resumes",
			TopK:         4,
			ChunkSize:    800,
			ChunkOverlap: 100,
		},
		Search: SearchConfig{
			Provider:   "serper",
			MaxResults: 5,
		},
		Retry: RetryConfig{
			MaxRetries:    2,
			BaseBackoffMs: 200,
			MaxBackoffMs:  2000,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			UploadDir:      filepath.Join(os.TempDir(), "careerflow-uploads"),
			MaxUploadBytes: 16 << 20,
		},
		Storage: StorageConfig{
			S3: S3Config{Region: "auto"},
		},
		Broker: BrokerConfig{
			Queue:           "careerflow.jobs",
			UpdatesExchange: "careerflow.updates",
			KafkaTopic:      "careerflow.runs",
		},
	}
}

// Load builds the configuration from defaults, the config file, a .env file
// in the working directory and environment variables, in increasing order
// of precedence. An empty path means ~/.careerflow/config.yaml, which may be
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := Default()
	cfg.ConfigDir = configDir

	explicit := path != ""
	if !explicit {
		path = filepath.Join(configDir, "config.yaml")
	}
	if err := loadFileConfig(path, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFileConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Provider, "CAREERFLOW_PROVIDER")
	setString(&cfg.Model, "CAREERFLOW_MODEL")
	setString(&cfg.Pipeline, "CAREERFLOW_PIPELINE")

	setString(&cfg.APIKeys.Anthropic, "ANTHROPIC_API_KEY")
	setString(&cfg.APIKeys.OpenAI, "OPENAI_API_KEY")
	setString(&cfg.APIKeys.Google, "GEMINI_API_KEY")
	setString(&cfg.APIKeys.Google, "GOOGLE_API_KEY")
	setString(&cfg.APIKeys.DeepSeek, "DEEPSEEK_API_KEY")

	setString(&cfg.Embedding.Model, "CAREERFLOW_EMBEDDING_MODEL")
	setString(&cfg.Embedding.Collection, "CAREERFLOW_COLLECTION")

	setString(&cfg.Search.Provider, "CAREERFLOW_SEARCH_PROVIDER")
	switch strings.ToLower(cfg.Search.Provider) {
	case "tavily":
		setString(&cfg.Search.APIKey, "TAVILY_API_KEY")
	default:
		setString(&cfg.Search.APIKey, "SERPER_API_KEY")
	}

	setString(&cfg.Server.Addr, "CAREERFLOW_ADDR")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("CAREERFLOW_ADDR") == "" {
		cfg.Server.Addr = ":" + port
	}
	setString(&cfg.Server.UploadDir, "CAREERFLOW_UPLOAD_DIR")

	setString(&cfg.Storage.PostgresDSN, "DATABASE_URL")
	setString(&cfg.Storage.S3.Bucket, "S3_BUCKET")
	setString(&cfg.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&cfg.Storage.S3.Region, "S3_REGION")
	setString(&cfg.Storage.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&cfg.Storage.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")

	setString(&cfg.Broker.AMQPURL, "AMQP_URL")
	setString(&cfg.Broker.Queue, "CAREERFLOW_QUEUE")
	setString(&cfg.Broker.KafkaTopic, "KAFKA_TOPIC")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Broker.KafkaBrokers = splitList(brokers)
	}

	if v := os.Getenv("CAREERFLOW_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CAREERFLOW_TEMPERATURE: %w", err)
		}
		cfg.Temperature = t
	}
	if v := os.Getenv("CAREERFLOW_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CAREERFLOW_MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.Server.MaxUploadBytes = n
	}
	return nil
}

// Validate checks provider credentials and value ranges.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	known := false
	for _, p := range Providers {
		if p == c.Provider {
			known = true
		}
	}
	switch {
	case !known:
		add("unknown provider %q (want one of %s)", c.Provider, strings.Join(Providers, ", "))
	case c.Provider != "mock" && !c.HasAdapter(c.Provider):
		add("no API key configured for provider %s", c.Provider)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		add("temperature %.2f out of range [0, 2]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		add("max_tokens must not be negative")
	}
	if c.Embedding.ChunkSize <= 0 {
		add("embedding.chunk_size must be positive")
	}
	if c.Embedding.ChunkOverlap < 0 || c.Embedding.ChunkOverlap >= c.Embedding.ChunkSize {
		add("embedding.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Embedding.TopK <= 0 {
		add("embedding.top_k must be positive")
	}
	switch strings.ToLower(c.Search.Provider) {
	case "serper", "tavily":
	default:
		add("unknown search provider %q", c.Search.Provider)
	}
	if c.Retry.MaxRetries < 0 || c.Retry.BaseBackoffMs < 0 || c.Retry.MaxBackoffMs < c.Retry.BaseBackoffMs {
		add("retry settings must be non-negative with max_backoff_ms >= base_backoff_ms")
	}
	if c.Server.MaxUploadBytes <= 0 {
		add("server.max_upload_bytes must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	return c.APIKey(name) != ""
}

// APIKey returns the credential for a provider.
func (c *Config) APIKey(name string) string {
	switch name {
	case "anthropic":
		return c.APIKeys.Anthropic
	case "openai":
		return c.APIKeys.OpenAI
	case "google":
		return c.APIKeys.Google
	case "deepseek":
		return c.APIKeys.DeepSeek
	default:
		return ""
	}
}

// ResolveModel maps a model alias from the models table to its canonical
// name. Unknown names are returned unchanged.
func (c *Config) ResolveModel(modelOrAlias string) string {
	if canonical, ok := c.Models[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

func setString(dst *string, envVar string) {
	if val := os.Getenv(envVar); val != "" {
		*dst = val
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".careerflow"), nil
}

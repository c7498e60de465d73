package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names understood by the inference client.
const (
	ProviderGroq       = "groq"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

// ProviderNames lists every provider section read from the environment.
var ProviderNames = []string{ProviderGroq, ProviderOpenAI, ProviderOpenRouter, ProviderAnthropic, ProviderGemini}

// Config holds all application configuration.
type Config struct {
	LLM        LLMConfig
	Extraction ExtractionConfig
	Output     OutputConfig
	S3         S3Config
	DB         DBConfig
	Log        LogConfig
	Server     ServerConfig
}

// ProviderConfig holds settings for a single inference provider.
type ProviderConfig struct {
	Name              string   `mapstructure:"name"`
	APIKeys           []string `mapstructure:"api_keys"`
	BaseURL           string   `mapstructure:"base_url"`
	TimeoutSecs       int      `mapstructure:"timeout_secs"`
	RequestsPerMinute float64  `mapstructure:"requests_per_minute"`
}

// Enabled reports whether the provider has at least one credential.
func (p *ProviderConfig) Enabled() bool {
	return len(p.APIKeys) > 0
}

// ModelRoute maps a model-name prefix to a provider.
type ModelRoute struct {
	Prefix   string
	Provider string
}

// RetryConfig describes how often a short-term exhausted rotation is re-run.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	Backoff     float64       `mapstructure:"backoff"`
}

// LLMConfig holds inference settings shared by all providers.
type LLMConfig struct {
	DefaultProvider string       `mapstructure:"default_provider"`
	PrimaryModel    string       `mapstructure:"primary_model"`
	ValidationModel string       `mapstructure:"validation_model"`
	Temperature     float64      `mapstructure:"temperature"`
	MaxOutputTokens int          `mapstructure:"max_output_tokens"`
	Retry           RetryConfig  `mapstructure:"retry"`
	ModelRoutes     []ModelRoute `mapstructure:"-"`
	Providers       map[string]ProviderConfig
}

// Provider returns the named provider config, or nil if it is not configured.
func (l *LLMConfig) Provider(name string) *ProviderConfig {
	p, ok := l.Providers[name]
	if !ok {
		return nil
	}
	return &p
}

// ExtractionConfig holds document extraction settings.
type ExtractionConfig struct {
	UseOCR          bool   `mapstructure:"use_ocr"`
	OCRLanguage     string `mapstructure:"ocr_language"`
	OCRDPI          int    `mapstructure:"ocr_dpi"`
	ContextMaxChars int    `mapstructure:"context_max_chars"`
}

// OutputConfig holds artifact locations.
type OutputConfig struct {
	CSVPath      string `mapstructure:"csv_path"`
	ReportPath   string `mapstructure:"report_path"`
	XLSXPath     string `mapstructure:"xlsx_path"`
	PromptLogDir string `mapstructure:"prompt_log_dir"`
	CSVExcelBOM  bool   `mapstructure:"csv_excel_bom"`
}

// S3Config holds settings for publishing artifacts to S3-compatible storage.
// An empty Bucket disables uploads.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// Enabled reports whether artifact uploads are configured.
func (s *S3Config) Enabled() bool {
	return s.Bucket != ""
}

// DBConfig holds PostgreSQL connection settings for run history.
type DBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds settings of the HTTP API.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	UploadDir      string   `mapstructure:"upload_dir"`
	MaxUploadMB    int64    `mapstructure:"max_upload_mb"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads configuration from environment variables with the TABLENORM_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TABLENORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// LLM defaults
	v.SetDefault("llm.default_provider", ProviderGroq)
	v.SetDefault("llm.primary_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.validation_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_output_tokens", 4096)
	v.SetDefault("llm.model_routes", "claude-=anthropic,gemini-=gemini,gpt-=openai")
	v.SetDefault("llm.retry.max_attempts", 1)
	v.SetDefault("llm.retry.delay", "20s")
	v.SetDefault("llm.retry.backoff", 2.0)

	for _, name := range ProviderNames {
		v.SetDefault("llm."+name+".api_keys", "")
		v.SetDefault("llm."+name+".base_url", "")
		v.SetDefault("llm."+name+".timeout_secs", 120)
		v.SetDefault("llm."+name+".requests_per_minute", 0)
	}

	// Extraction defaults
	v.SetDefault("extraction.use_ocr", false)
	v.SetDefault("extraction.ocr_language", "eng")
	v.SetDefault("extraction.ocr_dpi", 300)
	v.SetDefault("extraction.context_max_chars", 1000)

	// Output defaults
	v.SetDefault("output.csv_path", "outputs/consolidated.csv")
	v.SetDefault("output.report_path", "outputs/validation_report.json")
	v.SetDefault("output.xlsx_path", "")
	v.SetDefault("output.prompt_log_dir", "artifacts/prompts")
	v.SetDefault("output.csv_excel_bom", false)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.prefix", "runs")

	// DB defaults
	v.SetDefault("db.enabled", false)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "tablenorm")
	v.SetDefault("db.password", "tablenorm_secret")
	v.SetDefault("db.name", "tablenorm")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 4)
	v.SetDefault("db.max_idle", 2)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.upload_dir", "artifacts/uploads")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Bind environment variables explicitly for nested keys. The unprefixed names
	// are accepted as fallbacks for deployments configured with plain variables.
	envBindings := map[string][]string{
		"llm.default_provider":         {"TABLENORM_LLM_DEFAULT_PROVIDER"},
		"llm.primary_model":            {"TABLENORM_LLM_PRIMARY_MODEL", "PRIMARY_MODEL"},
		"llm.validation_model":         {"TABLENORM_LLM_VALIDATION_MODEL", "VALIDATION_MODEL"},
		"llm.temperature":              {"TABLENORM_LLM_TEMPERATURE", "LLM_TEMPERATURE"},
		"llm.max_output_tokens":        {"TABLENORM_LLM_MAX_OUTPUT_TOKENS", "LLM_MAX_OUTPUT_TOKENS"},
		"llm.model_routes":             {"TABLENORM_LLM_MODEL_ROUTES"},
		"llm.retry.max_attempts":       {"TABLENORM_LLM_RETRY_MAX_ATTEMPTS"},
		"llm.retry.delay":              {"TABLENORM_LLM_RETRY_DELAY"},
		"llm.retry.backoff":            {"TABLENORM_LLM_RETRY_BACKOFF"},
		"extraction.use_ocr":           {"TABLENORM_EXTRACTION_USE_OCR"},
		"extraction.ocr_language":      {"TABLENORM_EXTRACTION_OCR_LANGUAGE"},
		"extraction.ocr_dpi":           {"TABLENORM_EXTRACTION_OCR_DPI"},
		"extraction.context_max_chars": {"TABLENORM_EXTRACTION_CONTEXT_MAX_CHARS"},
		"output.csv_path":              {"TABLENORM_OUTPUT_CSV_PATH"},
		"output.report_path":           {"TABLENORM_OUTPUT_REPORT_PATH"},
		"output.xlsx_path":             {"TABLENORM_OUTPUT_XLSX_PATH"},
		"output.prompt_log_dir":        {"TABLENORM_OUTPUT_PROMPT_LOG_DIR"},
		"output.csv_excel_bom":         {"TABLENORM_OUTPUT_CSV_EXCEL_BOM"},
		"s3.region":                    {"TABLENORM_S3_REGION"},
		"s3.bucket":                    {"TABLENORM_S3_BUCKET"},
		"s3.endpoint":                  {"TABLENORM_S3_ENDPOINT"},
		"s3.access_key":                {"TABLENORM_S3_ACCESS_KEY"},
		"s3.secret_key":                {"TABLENORM_S3_SECRET_KEY"},
		"s3.prefix":                    {"TABLENORM_S3_PREFIX"},
		"db.enabled":                   {"TABLENORM_DB_ENABLED"},
		"db.host":                      {"TABLENORM_DB_HOST"},
		"db.port":                      {"TABLENORM_DB_PORT"},
		"db.user":                      {"TABLENORM_DB_USER"},
		"db.password":                  {"TABLENORM_DB_PASSWORD"},
		"db.name":                      {"TABLENORM_DB_NAME"},
		"db.sslmode":                   {"TABLENORM_DB_SSLMODE"},
		"db.max_open":                  {"TABLENORM_DB_MAX_OPEN"},
		"db.max_idle":                  {"TABLENORM_DB_MAX_IDLE"},
		"server.port":                  {"TABLENORM_SERVER_PORT"},
		"server.upload_dir":            {"TABLENORM_SERVER_UPLOAD_DIR"},
		"server.max_upload_mb":         {"TABLENORM_SERVER_MAX_UPLOAD_MB"},
		"server.allowed_origins":       {"TABLENORM_SERVER_ALLOWED_ORIGINS"},
		"log.level":                    {"TABLENORM_LOG_LEVEL"},
		"log.format":                   {"TABLENORM_LOG_FORMAT"},
	}
	for _, name := range ProviderNames {
		prefix := "TABLENORM_LLM_" + strings.ToUpper(name)
		envBindings["llm."+name+".api_keys"] = []string{prefix + "_API_KEYS"}
		envBindings["llm."+name+".base_url"] = []string{prefix + "_BASE_URL"}
		envBindings["llm."+name+".timeout_secs"] = []string{prefix + "_TIMEOUT_SECS"}
		envBindings["llm."+name+".requests_per_minute"] = []string{prefix + "_REQUESTS_PER_MINUTE"}
	}
	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	// Single-key variables from older deployments, one credential each.
	legacyGroqKeys := []string{"GROQ_API_KEY", "GROQ_API_KEY_2", "GROQ_API_KEY_3"}
	for i, env := range legacyGroqKeys {
		_ = v.BindEnv(fmt.Sprintf("llm.groq.legacy_key_%d", i), env)
	}

	cfg := &Config{}

	routes, err := ParseModelRoutes(v.GetString("llm.model_routes"))
	if err != nil {
		return nil, fmt.Errorf("parsing llm.model_routes: %w", err)
	}

	cfg.LLM = LLMConfig{
		DefaultProvider: v.GetString("llm.default_provider"),
		PrimaryModel:    v.GetString("llm.primary_model"),
		ValidationModel: v.GetString("llm.validation_model"),
		Temperature:     v.GetFloat64("llm.temperature"),
		MaxOutputTokens: v.GetInt("llm.max_output_tokens"),
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("llm.retry.max_attempts"),
			Delay:       v.GetDuration("llm.retry.delay"),
			Backoff:     v.GetFloat64("llm.retry.backoff"),
		},
		ModelRoutes: routes,
		Providers:   make(map[string]ProviderConfig, len(ProviderNames)),
	}
	for _, name := range ProviderNames {
		keys := SplitList(v.GetString("llm." + name + ".api_keys"))
		if name == ProviderGroq {
			for i := range legacyGroqKeys {
				keys = append(keys, v.GetString(fmt.Sprintf("llm.groq.legacy_key_%d", i)))
			}
		}
		cfg.LLM.Providers[name] = ProviderConfig{
			Name:              name,
			APIKeys:           DedupeKeys(keys),
			BaseURL:           v.GetString("llm." + name + ".base_url"),
			TimeoutSecs:       v.GetInt("llm." + name + ".timeout_secs"),
			RequestsPerMinute: v.GetFloat64("llm." + name + ".requests_per_minute"),
		}
	}

	cfg.Extraction = ExtractionConfig{
		UseOCR:          v.GetBool("extraction.use_ocr"),
		OCRLanguage:     v.GetString("extraction.ocr_language"),
		OCRDPI:          v.GetInt("extraction.ocr_dpi"),
		ContextMaxChars: v.GetInt("extraction.context_max_chars"),
	}
	cfg.Output = OutputConfig{
		CSVPath:      v.GetString("output.csv_path"),
		ReportPath:   v.GetString("output.report_path"),
		XLSXPath:     v.GetString("output.xlsx_path"),
		PromptLogDir: v.GetString("output.prompt_log_dir"),
		CSVExcelBOM:  v.GetBool("output.csv_excel_bom"),
	}
	cfg.S3 = S3Config{
		Region:    v.GetString("s3.region"),
		Bucket:    v.GetString("s3.bucket"),
		Endpoint:  v.GetString("s3.endpoint"),
		AccessKey: v.GetString("s3.access_key"),
		SecretKey: v.GetString("s3.secret_key"),
		Prefix:    v.GetString("s3.prefix"),
	}
	cfg.DB = DBConfig{
		Enabled:  v.GetBool("db.enabled"),
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
	cfg.Server = ServerConfig{
		Port:           v.GetString("server.port"),
		UploadDir:      v.GetString("server.upload_dir"),
		MaxUploadMB:    v.GetInt64("server.max_upload_mb"),
		AllowedOrigins: SplitList(v.GetString("server.allowed_origins")),
	}

	return cfg, nil
}

// ParseModelRoutes parses "prefix=provider" pairs separated by commas, keeping their order.
func ParseModelRoutes(s string) ([]ModelRoute, error) {
	var routes []ModelRoute
	for _, pair := range SplitList(s) {
		prefix, provider, ok := strings.Cut(pair, "=")
		prefix = strings.TrimSpace(prefix)
		provider = strings.TrimSpace(provider)
		if !ok || prefix == "" || provider == "" {
			return nil, fmt.Errorf("invalid model route %q: want prefix=provider", pair)
		}
		routes = append(routes, ModelRoute{Prefix: prefix, Provider: provider})
	}
	return routes, nil
}

// SplitList splits a comma-separated string, dropping blank entries.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// DedupeKeys drops blank and repeated keys while preserving first-seen order.
func DedupeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

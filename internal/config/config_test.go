package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablenorm/internal/config"
)

func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"GROQ_API_KEY", "GROQ_API_KEY_2", "GROQ_API_KEY_3",
		"PRIMARY_MODEL", "VALIDATION_MODEL", "LLM_TEMPERATURE", "LLM_MAX_OUTPUT_TOKENS",
		"TABLENORM_LLM_GROQ_API_KEYS",
	} {
		t.Setenv(env, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearLegacyEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderGroq, cfg.LLM.DefaultProvider)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.PrimaryModel)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 4096, cfg.LLM.MaxOutputTokens)
	assert.Equal(t, 1, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.LLM.Retry.Delay)
	assert.Equal(t, []config.ModelRoute{
		{Prefix: "claude-", Provider: config.ProviderAnthropic},
		{Prefix: "gemini-", Provider: config.ProviderGemini},
		{Prefix: "gpt-", Provider: config.ProviderOpenAI},
	}, cfg.LLM.ModelRoutes)
	assert.False(t, cfg.LLM.Provider(config.ProviderGroq).Enabled())

	assert.Equal(t, "eng", cfg.Extraction.OCRLanguage)
	assert.Equal(t, 1000, cfg.Extraction.ContextMaxChars)
	assert.Equal(t, "outputs/consolidated.csv", cfg.Output.CSVPath)
	assert.Equal(t, "outputs/validation_report.json", cfg.Output.ReportPath)
	assert.Equal(t, "artifacts/prompts", cfg.Output.PromptLogDir)
	assert.False(t, cfg.S3.Enabled())
	assert.False(t, cfg.DB.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_GroqKeysMergeLegacyVariables(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("TABLENORM_LLM_GROQ_API_KEYS", "key-a, key-b")
	t.Setenv("GROQ_API_KEY", "key-b")
	t.Setenv("GROQ_API_KEY_3", "key-c")

	cfg, err := config.Load()
	require.NoError(t, err)

	groq := cfg.LLM.Provider(config.ProviderGroq)
	require.NotNil(t, groq)
	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, groq.APIKeys)
	assert.True(t, groq.Enabled())
}

func TestLoad_PrefixedOverridesPlainFallback(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("PRIMARY_MODEL", "plain-model")
	t.Setenv("VALIDATION_MODEL", "plain-validation")
	t.Setenv("TABLENORM_LLM_VALIDATION_MODEL", "prefixed-validation")
	t.Setenv("TABLENORM_LLM_RETRY_DELAY", "5s")
	t.Setenv("TABLENORM_LLM_ANTHROPIC_REQUESTS_PER_MINUTE", "30")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "plain-model", cfg.LLM.PrimaryModel)
	assert.Equal(t, "prefixed-validation", cfg.LLM.ValidationModel)
	assert.Equal(t, 5*time.Second, cfg.LLM.Retry.Delay)
	assert.InDelta(t, 30.0, cfg.LLM.Provider(config.ProviderAnthropic).RequestsPerMinute, 1e-9)
}

func TestLoad_InvalidModelRoutes(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("TABLENORM_LLM_MODEL_ROUTES", "claude-")

	_, err := config.Load()
	assert.ErrorContains(t, err, "llm.model_routes")
}

func TestParseModelRoutes(t *testing.T) {
	routes, err := config.ParseModelRoutes(" mixtral = groq ,gpt-=openai,")
	require.NoError(t, err)
	assert.Equal(t, []config.ModelRoute{
		{Prefix: "mixtral", Provider: "groq"},
		{Prefix: "gpt-", Provider: "openai"},
	}, routes)

	routes, err = config.ParseModelRoutes("")
	require.NoError(t, err)
	assert.Empty(t, routes)

	_, err = config.ParseModelRoutes("=groq")
	assert.Error(t, err)
}

func TestDedupeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, config.DedupeKeys([]string{" a", "", "b", "a ", "b"}))
	assert.Empty(t, config.DedupeKeys(nil))
}

func TestLLMConfig_ProviderUnknown(t *testing.T) {
	cfg := config.LLMConfig{Providers: map[string]config.ProviderConfig{}}
	assert.Nil(t, cfg.Provider("mistral"))
}

func TestDBConfig_DSN(t *testing.T) {
	db := config.DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "runs", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/runs?sslmode=disable", db.DSN())
}

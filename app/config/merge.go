package config

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/http"
	"holyagents.arpa/app/persona"
)

const (
	defaultTimeout         = 60 * time.Second
	defaultRateBurst       = 2
	defaultRetryAttempts   = 3
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultScreenIdleTTL   = 10 * time.Minute
	defaultReconnectGrace  = 30 * time.Second
	defaultLedgerRetention = 30 * 24 * time.Hour
	defaultServerURL       = "http://localhost:4200"
	defaultOllamaURL       = "http://localhost:11434"
)

// CLIOverrides holds values explicitly set via flags or their environment variables
type CLIOverrides struct {
	LogLevel    *string
	Environment *string
	DataDir     *string
	ConfigFile  *string
	ServerURL   *string

	OpenAIAPIKey  *string
	OpenAIBaseURL *string
	Provider      *string
	OllamaURL     *string
	Model         *string
	Timeout       *time.Duration
	RateLimit     *float64
	RateBurst     *int
	RetryAttempts *int
	RetryBackoff  *time.Duration

	ScreenIdleTTL   *time.Duration
	ReconnectGrace  *time.Duration
	LedgerRetention *time.Duration
}

// ExtractCLIOverrides extracts values that were set, not just defaulted
func ExtractCLIOverrides(cmd *cli.Command) *CLIOverrides {
	o := &CLIOverrides{}

	setString := func(name string, dst **string) {
		if cmd.IsSet(name) {
			val := cmd.String(name)
			*dst = &val
		}
	}
	setDuration := func(name string, dst **time.Duration) {
		if cmd.IsSet(name) {
			val := cmd.Duration(name)
			*dst = &val
		}
	}
	setInt := func(name string, dst **int) {
		if cmd.IsSet(name) {
			val := cmd.Int(name)
			*dst = &val
		}
	}

	setString("log-level", &o.LogLevel)
	setString("env", &o.Environment)
	setString("data-dir", &o.DataDir)
	setString("config-file", &o.ConfigFile)
	setString("server-url", &o.ServerURL)
	setString("openai-base-url", &o.OpenAIBaseURL)
	setString("provider", &o.Provider)
	setString("ollama-url", &o.OllamaURL)
	setString("model", &o.Model)
	setDuration("completion-timeout", &o.Timeout)
	setInt("rate-burst", &o.RateBurst)
	setInt("retry-attempts", &o.RetryAttempts)
	setDuration("retry-backoff", &o.RetryBackoff)
	setDuration("screen-idle-ttl", &o.ScreenIdleTTL)
	setDuration("screen-reconnect-grace", &o.ReconnectGrace)
	setDuration("ledger-retention", &o.LedgerRetention)

	if cmd.IsSet("rate-limit") {
		val := cmd.Float("rate-limit")
		o.RateLimit = &val
	}
	// File sources do not always report IsSet
	if cmd.IsSet("openai-api-key") || cmd.String("openai-api-key") != "" {
		val := cmd.String("openai-api-key")
		o.OpenAIAPIKey = &val
	}

	return o
}

// Merge builds the runtime config: CLI values win over the file, the file over defaults.
func Merge(build BuildOpts, o *CLIOverrides, file FileConfig) (Config, error) {
	if o == nil {
		o = &CLIOverrides{}
	}
	fc := file.Completion

	dataDir, err := absolutePath(stringWithOverride("", o.DataDir))
	if err != nil {
		return Config{}, fmt.Errorf("data directory: %w", err)
	}

	env := environmentFromString(strings.ToLower(stringWithOverride(Default(build.BuildEnvironment, EnvironmentDevelopment.String()), o.Environment)))
	if env == "" {
		env = EnvironmentDevelopment
	}

	c := Config{
		Version:     Default(build.BuildVersion, "dev"),
		BuildTime:   Default(build.BuildTime, "unknown"),
		LogLevel:    strings.ToLower(stringWithFileAndOverride(file.LogLevel, "info", o.LogLevel)),
		Environment: env,
		DataDir:     dataDir,
		ConfigFile:  stringWithOverride(defaultConfigFile, o.ConfigFile),
		Server: http.Config{
			ServerURL: stringWithOverride(defaultServerURL, o.ServerURL),
		},
		Completion: completion.Config{
			Provider:      stringWithFileAndOverride(fc.Provider, completion.ProviderOpenAI, o.Provider),
			OpenAIAPIKey:  stringWithOverride("", o.OpenAIAPIKey),
			OpenAIBaseURL: stringWithFileAndOverride(fc.OpenAIBaseURL, "", o.OpenAIBaseURL),
			OllamaURL:     stringWithFileAndOverride(fc.OllamaURL, defaultOllamaURL, o.OllamaURL),
			DefaultModel:  stringWithFileAndOverride(fc.Model, "", o.Model),
			RateLimit:     floatWithFileAndOverride(fc.RateLimit, 0, o.RateLimit),
			RateBurst:     intWithFileAndOverride(fc.RateBurst, defaultRateBurst, o.RateBurst),
			RetryAttempts: intWithFileAndOverride(fc.RetryAttempts, defaultRetryAttempts, o.RetryAttempts),
			RetryBackoff:  durationWithFileAndOverride(fc.RetryBackoff, defaultRetryBackoff, o.RetryBackoff),
		},
		Timeout:         durationWithFileAndOverride(fc.Timeout, defaultTimeout, o.Timeout),
		ScreenIdleTTL:   durationWithFileAndOverride(file.Screens.IdleTTL, defaultScreenIdleTTL, o.ScreenIdleTTL),
		ReconnectGrace:  durationWithFileAndOverride(file.Screens.ReconnectGrace, defaultReconnectGrace, o.ReconnectGrace),
		LedgerRetention: durationWithFileAndOverride(file.Ledger.Retention, defaultLedgerRetention, o.LedgerRetention),
		ModelOverrides:  map[string]string{},
		LogLevelFromCLI: o.LogLevel != nil,
	}

	for id, p := range file.Personas {
		if p.Model != "" {
			c.ModelOverrides[id] = p.Model
		}
	}

	if c.Completion.Provider == completion.ProviderOllama {
		if c.Completion.DefaultModel == "" {
			return Config{}, fmt.Errorf("the %s provider requires a model", completion.ProviderOllama)
		}
		// gpt-* names mean nothing to ollama, every persona without its own model uses the default
		defaults := map[string]string{}
		for _, id := range persona.IDs() {
			defaults[id.String()] = c.Completion.DefaultModel
		}
		maps.Copy(defaults, c.ModelOverrides)
		c.ModelOverrides = defaults
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("completion timeout must be positive")
	}
	if c.Completion.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Completion.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1")
	}
	if c.Completion.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if err := validateEndpointInput(c.Completion.OpenAIBaseURL); err != nil {
		return err
	}
	return nil
}

// Helper functions for configuration merging

func stringWithOverride(defaultValue string, override *string) string {
	if override != nil {
		return *override
	}
	return defaultValue
}

func stringWithFileAndOverride(fileValue *string, defaultValue string, override *string) string {
	if override != nil {
		return *override
	}
	if fileValue != nil {
		return *fileValue
	}
	return defaultValue
}

func durationWithFileAndOverride(fileValue *time.Duration, defaultValue time.Duration, override *time.Duration) time.Duration {
	if override != nil {
		return *override
	}
	if fileValue != nil {
		return *fileValue
	}
	return defaultValue
}

func intWithFileAndOverride(fileValue *int, defaultValue int, override *int) int {
	if override != nil {
		return *override
	}
	if fileValue != nil {
		return *fileValue
	}
	return defaultValue
}

func floatWithFileAndOverride(fileValue *float64, defaultValue float64, override *float64) float64 {
	if override != nil {
		return *override
	}
	if fileValue != nil {
		return *fileValue
	}
	return defaultValue
}

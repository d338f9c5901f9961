package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"holyagents.arpa/app/completion"
)

const defaultConfigFile = "./config.yaml"

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log level",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Action: func(ctx context.Context, cmd *cli.Command, v string) error {
				if slices.Contains(logLevels, strings.ToLower(v)) {
					return nil
				}
				return cli.Exit(fmt.Errorf("'log-level' must be %v. Received: %v", strings.Join(logLevels, ", "), v), 2)
			},
		},
		&cli.StringFlag{
			Name:    "env",
			Usage:   "build environment description",
			Value:   "development",
			Sources: cli.EnvVars("ENVIRONMENT"),
			Action: func(ctx context.Context, cmd *cli.Command, v string) error {
				options := []string{EnvironmentDevelopment.String(), EnvironmentProduction.String()}
				if slices.Contains(options, strings.ToLower(v)) {
					return nil
				}
				return cli.Exit(fmt.Errorf("'env' must be %v. Received: %v", strings.Join(options, ", "), v), 2)
			},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "Directory for the exchange ledger, may be relative or absolute. Empty disables the ledger.",
			Sources: cli.EnvVars("DATA_DIR"),
			Action: func(ctx context.Context, cmd *cli.Command, v string) error {
				if v == "" {
					return nil
				}
				if err := validateDirectoryInput(v, 0755); err != nil {
					return cli.Exit(fmt.Errorf("invalid data directory: %v", err), 2)
				}
				return nil
			},
		},
		&cli.StringFlag{
			Name:    "config-file",
			Usage:   "YAML or JSON config file, watched for log level changes",
			Value:   defaultConfigFile,
			Sources: cli.EnvVars("CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "Server URL",
			Value:   defaultServerURL,
			Sources: cli.EnvVars("SERVER_URL"),
			Action: func(ctx context.Context, cmd *cli.Command, v string) error {
				if err := validateURLInput(v); err != nil {
					return cli.Exit(fmt.Errorf("invalid server URL: %v", err), 2)
				}
				return nil
			},
		},
		&cli.StringFlag{
			Name:  "openai-api-key",
			Usage: "OpenAI API key. Without one every reply is the fallback message.",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("OPENAI_API_KEY"),
				cli.EnvVar("REACT_APP_OPENAI_API_KEY"),
				cli.File("/run/secrets/openai_api_key"),
			),
		},
		&cli.StringFlag{
			Name:    "openai-base-url",
			Usage:   "Alternative OpenAI compatible endpoint",
			Sources: cli.EnvVars("OPENAI_BASE_URL"),
			Action: func(ctx context.Context, cmd *cli.Command, v string) error {
				if err := validateEndpointInput(v); err != nil {
					return cli.Exit(fmt.Errorf("invalid OpenAI base URL: %v", err), 2)
				}
				return nil
			},
		},
		&cli.StringFlag{
			Name:    "provider",
			Usage:   fmt.Sprintf("Completion provider, one of %s", strings.Join(completion.Providers, ", ")),
			Value:   completion.ProviderOpenAI,
			Sources: cli.EnvVars("COMPLETION_PROVIDER"),
			Action: func(ctx context.Context, cmd *cli.Command, v string) error {
				if slices.Contains(completion.Providers, v) {
					return nil
				}
				return cli.Exit(fmt.Errorf("'provider' must be %v. Received: %v", strings.Join(completion.Providers, ", "), v), 2)
			},
		},
		&cli.StringFlag{
			Name:    "ollama-url",
			Usage:   "Ollama server URL",
			Value:   defaultOllamaURL,
			Sources: cli.EnvVars("OLLAMA_URL"),
			Action: func(ctx context.Context, cmd *cli.Command, v string) error {
				if err := validateEndpointInput(v); err != nil {
					return cli.Exit(fmt.Errorf("invalid Ollama URL: %v", err), 2)
				}
				return nil
			},
		},
		&cli.StringFlag{
			Name:    "model",
			Usage:   "Model for every persona; required with the ollama provider",
			Sources: cli.EnvVars("COMPLETION_MODEL"),
		},
		&cli.DurationFlag{
			Name:    "completion-timeout",
			Usage:   "Upper bound on one completion call",
			Value:   defaultTimeout,
			Sources: cli.EnvVars("COMPLETION_TIMEOUT"),
			Action:  positiveDuration("completion-timeout"),
		},
		&cli.FloatFlag{
			Name:    "rate-limit",
			Usage:   "Completion requests per second across all screens, 0 disables",
			Sources: cli.EnvVars("COMPLETION_RATE_LIMIT"),
			Action: func(ctx context.Context, cmd *cli.Command, v float64) error {
				if v < 0 {
					return cli.Exit(errors.New("'rate-limit' must not be negative"), 2)
				}
				return nil
			},
		},
		&cli.IntFlag{
			Name:    "rate-burst",
			Usage:   "Completion requests allowed in a burst",
			Value:   defaultRateBurst,
			Sources: cli.EnvVars("COMPLETION_RATE_BURST"),
			Action:  positiveInt("rate-burst"),
		},
		&cli.IntFlag{
			Name:    "retry-attempts",
			Usage:   "Attempts for a rate limited completion, 1 disables retries",
			Value:   defaultRetryAttempts,
			Sources: cli.EnvVars("COMPLETION_RETRY_ATTEMPTS"),
			Action:  positiveInt("retry-attempts"),
		},
		&cli.DurationFlag{
			Name:    "retry-backoff",
			Usage:   "Initial wait before retrying a rate limited completion",
			Value:   defaultRetryBackoff,
			Sources: cli.EnvVars("COMPLETION_RETRY_BACKOFF"),
			Action:  positiveDuration("retry-backoff"),
		},
		&cli.DurationFlag{
			Name:    "screen-idle-ttl",
			Usage:   "How long a screen whose page never connected is kept",
			Value:   defaultScreenIdleTTL,
			Sources: cli.EnvVars("SCREEN_IDLE_TTL"),
			Action:  positiveDuration("screen-idle-ttl"),
		},
		&cli.DurationFlag{
			Name:    "screen-reconnect-grace",
			Usage:   "How long a screen is kept after its page's event stream drops",
			Value:   defaultReconnectGrace,
			Sources: cli.EnvVars("SCREEN_RECONNECT_GRACE"),
			Action:  positiveDuration("screen-reconnect-grace"),
		},
		&cli.DurationFlag{
			Name:    "ledger-retention",
			Usage:   "How long exchange records are kept",
			Value:   defaultLedgerRetention,
			Sources: cli.EnvVars("LEDGER_RETENTION"),
			Action:  positiveDuration("ledger-retention"),
		},
	}
}

var logLevels = []string{"error", "warn", "info", "debug"}

func positiveDuration(name string) func(context.Context, *cli.Command, time.Duration) error {
	return func(ctx context.Context, cmd *cli.Command, v time.Duration) error {
		if v <= 0 {
			return cli.Exit(fmt.Errorf("'%s' must be positive. Received: %v", name, v), 2)
		}
		return nil
	}
}

func positiveInt(name string) func(context.Context, *cli.Command, int) error {
	return func(ctx context.Context, cmd *cli.Command, v int) error {
		if v < 1 {
			return cli.Exit(fmt.Errorf("'%s' must be at least 1. Received: %v", name, v), 2)
		}
		return nil
	}
}

// Ensures the directory input is valid.
//
// The directory must either exist or the parent directory must exist.
// Will create if the directory doesn't exist.
func validateDirectoryInput(dir string, permissions os.FileMode) error {
	if dir == "" {
		return errors.New("directory is required")
	}
	parent := filepath.Dir(dir)
	if _, err := os.Stat(parent); err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, permissions)
	}
	return nil
}

// validateURLInput requires an explicit port, the server binds to it.
func validateURLInput(input string) error {
	if input == "" {
		return errors.New("URL is required")
	}
	u, err := url.ParseRequestURI(input)
	if err != nil {
		return fmt.Errorf("invalid url '%v': %v", input, err)
	}
	host, _, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return fmt.Errorf("invalid url '%v': %v", input, err)
	}
	return nil
}

// validateEndpointInput accepts an empty value or an absolute http(s) URL.
func validateEndpointInput(input string) error {
	if input == "" {
		return nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return fmt.Errorf("invalid url '%v': %v", input, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url '%v': expected http(s)://host", input)
	}
	return nil
}

package stageflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds engine configuration. Zero values fall back to
// DefaultConfig at controller construction.
type Config struct {
	// HTTPTimeout bounds outbound api-call requests. There is no retry:
	// a timeout is handled like any other transport failure.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// APIErrorStatuses are the status values, in the response body's
	// "status" field or the HTTP status code, treated as application
	// errors by api-call stages.
	APIErrorStatuses []int `mapstructure:"api_error_statuses"`

	// APIFailureText is the apology rendered to the user when an
	// api-call fails.
	APIFailureText string `mapstructure:"api_failure_text"`

	// Vars are process-level variables available to ${...} interpolation
	// in api-call request URIs, on top of the stage context.
	Vars map[string]any `mapstructure:"vars"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:      30 * time.Second,
		APIErrorStatuses: []int{400, 500},
		APIFailureText:   "There was an error with our servers. Please type 'help' to talk directly to one of our operators.",
	}
}

// LoadConfig reads configuration from the optional file at path and from
// STAGEFLOW_* environment variables, on top of the defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("http_timeout", defaults.HTTPTimeout)
	v.SetDefault("api_error_statuses", defaults.APIErrorStatuses)
	v.SetDefault("api_failure_text", defaults.APIFailureText)

	v.SetEnvPrefix("STAGEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// varsMap returns the process-level interpolation variables, never nil.
func (c Config) varsMap() map[string]any {
	if c.Vars == nil {
		return map[string]any{}
	}
	return c.Vars
}

// Runtime configuration resolved from flags, environment, a .env file, and defaults
// Precedence is flag > environment > .env > default
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys used with viper; each is bound to a flag of the same name.
const (
	KeyGenerationURL = "generation-url"
	KeyGuardURL      = "guard-url"
	KeyModel         = "model"
	KeyGuardModel    = "guard-model"
	KeyEndpoint      = "endpoint"
	KeyProtocol      = "protocol"
	KeySignals       = "signals"
)

// Defaults for in-cluster deployments.
const (
	DefaultGenerationURL = "http://llama-instruct-32-3b-predictor.llama-instruct-32-3b-demo.svc.cluster.local:80"
	DefaultGuardURL      = "http://llama-guard-3-1b-predictor.llama-serve.svc.cluster.local/v1"
	DefaultModel         = "llama-instruct-32-3b"
	DefaultGuardModel    = "llama-guard-3-1b"
	DefaultEndpoint      = "http://otel-collector-collector.observability-hub.svc.cluster.local:4318/v1/traces"
	DefaultProtocol      = "http/protobuf"
	DefaultSignals       = "traces"
)

var envNames = map[string]string{
	KeyGenerationURL: "LLAMA_STACK_URL",
	KeyGuardURL:      "LLAMA_GUARD_URL",
	KeyModel:         "MODEL_NAME",
	KeyGuardModel:    "GUARD_MODEL_NAME",
	KeyEndpoint:      "OTEL_TRACE_ENDPOINT",
	KeyProtocol:      "OTEL_EXPORTER_OTLP_PROTOCOL",
	KeySignals:       "INFERCHECK_SIGNALS",
}

// EnvName returns the environment variable bound to key.
func EnvName(key string) string { return envNames[key] }

// Config is the resolved configuration.
type Config struct {
	// GenerationURL is empty when neither a flag nor the environment set it;
	// callers then probe for an endpoint and fall back to DefaultGenerationURL.
	GenerationURL string
	GuardURL      string
	Model         string
	GuardModel    string
	Endpoint      string
	Protocol      string
	Signals       string
}

// Load resolves configuration. envFile is read if it exists; a missing file is
// not an error. Variables already in the environment are never overwritten by it.
func Load(flags *pflag.FlagSet, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetDefault(KeyGuardURL, DefaultGuardURL)
	v.SetDefault(KeyModel, DefaultModel)
	v.SetDefault(KeyGuardModel, DefaultGuardModel)
	v.SetDefault(KeyEndpoint, DefaultEndpoint)
	v.SetDefault(KeyProtocol, DefaultProtocol)
	v.SetDefault(KeySignals, DefaultSignals)

	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
		if flags == nil {
			continue
		}
		if f := flags.Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding --%s: %w", key, err)
			}
		}
	}

	return &Config{
		GenerationURL: v.GetString(KeyGenerationURL),
		GuardURL:      v.GetString(KeyGuardURL),
		Model:         v.GetString(KeyModel),
		GuardModel:    v.GetString(KeyGuardModel),
		Endpoint:      v.GetString(KeyEndpoint),
		Protocol:      v.GetString(KeyProtocol),
		Signals:       v.GetString(KeySignals),
	}, nil
}

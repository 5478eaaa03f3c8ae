package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider by treating each parameter path as
// the name of an environment variable. Used for local runs and CI where
// secrets are injected directly.
type EnvVarProvider struct{}

func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch returns the keys found in the environment; missing keys
// are omitted.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

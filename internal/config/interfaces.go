package config

import "context"

// SecretProvider resolves secret parameter paths to plaintext values.
// Implementations return only the keys they could resolve.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretParamSuffix marks environment variables that point at a secret path
// instead of holding the value, e.g. SENDGRID_API_KEY_SSM_PARAM=/prod/subwatch/sendgrid.
const secretParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// loaderDeps holds the injectable environment accessors so tests do not
// mutate process-global state beyond t.Setenv.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the configuration:
//  1. Forces the process timezone to UTC.
//  2. Loads a .env file if present.
//  3. Outside APP_ENV=local, resolves *_SSM_PARAM pointers through provider.
//  4. Populates Config from envconfig tags and validates it.
//
// provider may be nil when no secret pointers are present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// Never overrides variables already present in the environment.
	_ = godotenv.Load()

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != localEnv {
		if err := resolveSecretParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, classifyValidationError(err)
	}
	return &cfg, nil
}

// classifyValidationError reports missing required fields separately from
// malformed values so operators can tell an unset variable from a typo.
func classifyValidationError(err error) *ConfigError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		var missing []string
		for _, fe := range fieldErrs {
			if fe.Tag() == "required" || fe.Tag() == "required_if" {
				missing = append(missing, fe.Namespace())
			}
		}
		if len(missing) > 0 {
			return &ConfigError{
				Type:    ErrMissingEnv,
				Message: fmt.Sprintf("required configuration missing: %s", strings.Join(missing, ", ")),
				Err:     err,
			}
		}
	}
	return &ConfigError{
		Type:    ErrValidation,
		Message: "configuration validation failed",
		Err:     err,
	}
}

// ResolveSecrets performs only the secret resolution step. Entry points call
// it before reading individual variables with os.Getenv.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSecretParams(provider, defaultDeps())
}

// resolveSecretParams fetches every *_SSM_PARAM pointer whose target variable
// is not already set, in one batch, and injects the values into the environment.
func resolveSecretParams(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, secretParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, secretParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		pathToTarget[path] = target
	}
	if len(pathToTarget) == 0 {
		return nil
	}

	paths := make([]string, 0, len(pathToTarget))
	for p := range pathToTarget {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("a SecretProvider is required to resolve %d secret parameters", len(paths)),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d secret parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		target := pathToTarget[path]
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("secret parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

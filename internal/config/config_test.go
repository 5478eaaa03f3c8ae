package config

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()

	if info.Version != "dev" || info.Commit != "none" || info.BuildTime != "unknown" {
		t.Errorf("NewBuildInfo() = %+v, want dev/none/unknown defaults", info)
	}
	if got := info.String(); got != "dev (none, built unknown)" {
		t.Errorf("BuildInfo.String() = %q", got)
	}
}

func TestConfigJSONRedactsSecrets(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{URL: "postgres://user:hunter2@db/subwatch"},
		Email:    EmailConfig{SendGridAPIKey: "SG.very-secret"},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if strings.Contains(string(data), "hunter2") || strings.Contains(string(data), "SG.very-secret") {
		t.Errorf("config JSON leaked a secret: %s", data)
	}
}

func TestConfigErrorFormat(t *testing.T) {
	err := &ConfigError{Type: ErrValidation, Message: "bad"}
	if err.Error() != "[VALIDATION_FAILED] bad" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Unwrap() != nil {
		t.Error("Unwrap() should be nil without a cause")
	}
}

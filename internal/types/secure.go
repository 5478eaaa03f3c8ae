package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

// SecretString holds a credential (database URL, provider API key) that must
// never appear in logs or serialized config dumps. String, MarshalJSON and
// LogValue all return a placeholder; Unmask returns the raw value.
type SecretString string

func (s SecretString) String() string {
	return redactedPlaceholder
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// LogValue keeps the secret out of slog output even when passed as an attribute.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the raw plaintext value. Callers are limited to the places
// that hand the value to a driver or an Authorization header.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no secret was configured.
func (s SecretString) IsEmpty() bool {
	return s == ""
}

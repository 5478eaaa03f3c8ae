package app

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"

	"subwatch/internal/config"
	"subwatch/internal/external"
	"subwatch/internal/jobs"
)

func TestNewTransport_SelectsProvider(t *testing.T) {
	_, isStub := NewTransport(config.EmailConfig{Provider: "stub"}, nil).(*external.StubTransport)
	assert.True(t, isStub)

	_, isSendGrid := NewTransport(config.EmailConfig{Provider: "sendgrid", SendGridAPIKey: "SG.x"}, nil).(*external.SendGridTransport)
	assert.True(t, isSendGrid)
}

func TestNewMetrics_Disabled(t *testing.T) {
	m := NewMetrics(config.ObservabilityConfig{EnableMetrics: false}, awsConfigForTest(), nil)
	assert.IsType(t, jobs.NopMetrics{}, m)
}

func TestRetentionDefaults(t *testing.T) {
	d := RetentionDefaults(config.RetentionConfig{AuditLogMonths: 24, NonceTTL: time.Hour, RateLimitTTL: 2 * time.Hour, BatchSize: 100})
	assert.Equal(t, 24, d.AuditLogMonths)
	assert.Equal(t, time.Hour, d.NonceTTL)
	assert.Equal(t, 2*time.Hour, d.RateLimitTTL)
	assert.Equal(t, 100, d.BatchSize)
}

func awsConfigForTest() aws.Config { return aws.Config{Region: "us-east-1"} }

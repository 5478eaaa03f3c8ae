package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_UnmarshalDecodesPayloadByClass(t *testing.T) {
	notBefore := time.Date(2025, 6, 7, 9, 30, 0, 0, time.UTC)
	job := Job{
		ID:          "job_1",
		Class:       JobExpiryWarning,
		Payload:     ExpiryWarningPayload{SubscriptionID: "sub_1", UserID: "u_1", ExpiresAt: notBefore.Add(72 * time.Hour), DaysUntilExpiry: 3},
		Attempt:     1,
		MaxAttempts: 3,
		NotBefore:   notBefore,
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))

	payload, ok := decoded.Payload.(ExpiryWarningPayload)
	require.True(t, ok, "payload should decode as ExpiryWarningPayload, got %T", decoded.Payload)
	assert.Equal(t, 3, payload.DaysUntilExpiry)
	assert.Equal(t, "sub_1", payload.SubscriptionID)
	assert.Equal(t, 1, decoded.Attempt)
	assert.True(t, decoded.NotBefore.Equal(notBefore))
	assert.Nil(t, decoded.Result)
}

func TestJob_UnmarshalDecodesResult(t *testing.T) {
	raw := `{"id":"job_2","class":"cleanup","payload":{"type":"nonces"},"attempt":0,"max_attempts":2,
		"not_before":"2025-06-07T03:00:00Z","created_at":"2025-06-07T03:00:00Z",
		"state":"completed","result":{"cleaned":12,"type":"nonces"}}`

	var job Job
	require.NoError(t, json.Unmarshal([]byte(raw), &job))

	assert.Equal(t, JobCompleted, job.State)
	assert.Equal(t, CleanupResult{Cleaned: 12, Type: CleanupNonces}, job.Result)
}

func TestJob_UnmarshalUnknownClassIsConfigurationError(t *testing.T) {
	raw := `{"id":"job_3","class":"send-invoice","payload":{}}`

	var job Job
	err := json.Unmarshal([]byte(raw), &job)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeConfiguration))
	assert.False(t, IsRetryable(err))
}

func TestDecodePayload_UnknownCleanupTarget(t *testing.T) {
	_, err := DecodePayload(JobCleanup, []byte(`{"type":"sessions","older_than_days":3}`))
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfiguration, CodeOf(err))
}

func TestDecodePayload_MissingSubscriptionID(t *testing.T) {
	_, err := DecodePayload(JobExpireSubscription, []byte(`{"user_id":"u_1","expires_at":"2025-06-10T00:00:00Z"}`))
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfiguration, CodeOf(err))
}

func TestDecodePayload_Malformed(t *testing.T) {
	_, err := DecodePayload(JobExpireSubscription, []byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfiguration, CodeOf(err))
}

func TestPayloadClass(t *testing.T) {
	assert.Equal(t, JobExpireSubscription, ExpireSubscriptionPayload{}.Class())
	assert.Equal(t, JobExpiryWarning, ExpiryWarningPayload{}.Class())
	assert.Equal(t, JobCleanup, CleanupPayload{}.Class())
}

func TestParseJobState(t *testing.T) {
	st, err := ParseJobState("dead")
	require.NoError(t, err)
	assert.Equal(t, JobDead, st)
	assert.True(t, st.IsTerminal())
	assert.False(t, JobRetrying.IsTerminal())

	_, err = ParseJobState("zombie")
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidationInvalidState, CodeOf(err))
}

func TestExpiryWindow_Contains(t *testing.T) {
	now := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	nearExpiry := ExpiryWindow{Start: now, End: now.Add(time.Hour), IncludeEnd: true}

	assert.False(t, nearExpiry.Contains(now), "start is exclusive")
	assert.True(t, nearExpiry.Contains(now.Add(time.Second)))
	assert.True(t, nearExpiry.Contains(now.Add(time.Hour)), "end is inclusive")
	assert.False(t, nearExpiry.Contains(now.Add(time.Hour+time.Second)))

	day := StartOfDay(now).AddDate(0, 0, 3)
	bucket := ExpiryWindow{Start: day, End: day.AddDate(0, 0, 1), IncludeStart: true}

	assert.True(t, bucket.Contains(day), "start of day is inclusive")
	assert.True(t, bucket.Contains(time.Date(2025, 6, 10, 23, 59, 0, 0, time.UTC)))
	assert.False(t, bucket.Contains(day.AddDate(0, 0, 1)), "next day is exclusive")
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2025, 6, 8, 2, 30, 0, 0, loc) // 2025-06-07T21:30Z

	got := StartOfDay(in)
	assert.Equal(t, time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC), got)
}

func TestSubscription_IsDue(t *testing.T) {
	now := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, (&Subscription{ExpiresAt: &past}).IsDue(now))
	assert.True(t, (&Subscription{ExpiresAt: &now}).IsDue(now))
	assert.False(t, (&Subscription{ExpiresAt: &future}).IsDue(now))
	assert.False(t, (&Subscription{}).IsDue(now))
}

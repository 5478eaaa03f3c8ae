package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/types"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		intent types.NotificationIntent
		want   string
	}{
		{types.NotificationIntent{Type: types.NotificationExpiryWarning, DaysUntilExpiry: 1}, "Your subscription expires in 1 day"},
		{types.NotificationIntent{Type: types.NotificationExpiryWarning, DaysUntilExpiry: 3}, "Your subscription expires in 3 days"},
		{types.NotificationIntent{Type: types.NotificationExpiryWarning, DaysUntilExpiry: 7}, "Your subscription expires in 7 days"},
		{types.NotificationIntent{Type: types.NotificationExpired}, "Your subscription has expired"},
		{types.NotificationIntent{Type: types.NotificationCancelled}, "Your subscription has been cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := Subject(tt.intent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubject_UnknownType(t *testing.T) {
	_, err := Subject(types.NotificationIntent{Type: "renewed"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeConfiguration, types.CodeOf(err))
}

func TestCompose_IsDeterministic(t *testing.T) {
	intent := types.NotificationIntent{UserID: "u_1", SubscriptionID: "sub_1", Type: types.NotificationExpiryWarning, DaysUntilExpiry: 1}
	profile := &types.Profile{UserID: "u_1", Email: "ada@example.com", DisplayName: "Ada"}

	a, err := Compose(intent, profile)
	require.NoError(t, err)
	b, err := Compose(intent, profile)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Contains(t, a.Body, "Hi Ada,")
	assert.Contains(t, a.Body, "expires in 1 day.")
}

func TestCompose_FallbackName(t *testing.T) {
	msg, err := Compose(types.NotificationIntent{SubscriptionID: "sub_1", Type: types.NotificationExpired}, &types.Profile{Email: "x@example.com"})
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Hi there,")
	assert.Contains(t, msg.Body, "sub_1 has expired")
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "j***@gmail.com", RedactEmail("john@gmail.com"))
	assert.Equal(t, "***@x.io", RedactEmail("@x.io"))
	assert.Equal(t, "***", RedactEmail("not-an-email"))
	assert.Equal(t, "", RedactEmail(""))
}

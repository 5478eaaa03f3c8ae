package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subwatch/internal/types"
)

func newTestDispatcher(ledger *memLedger, transport *fakeTransport) *Dispatcher {
	profiles := fakeProfiles{
		"u_1":       {UserID: "u_1", Email: "ada@example.com", DisplayName: "Ada"},
		"u_noemail": {UserID: "u_noemail"},
	}
	return NewDispatcher(profiles, transport, ledger, fixedClock{t0}, nil)
}

func warningIntent(days int) types.NotificationIntent {
	return types.NotificationIntent{UserID: "u_1", SubscriptionID: "sub_1", Type: types.NotificationExpiryWarning, DaysUntilExpiry: days}
}

func TestDispatcher_SuccessRecordsSentEntry(t *testing.T) {
	ledger := &memLedger{}
	transport := &fakeTransport{}
	d := newTestDispatcher(ledger, transport)

	res, err := d.Dispatch(context.Background(), warningIntent(3))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.Recipient)
	assert.Equal(t, "Your subscription expires in 3 days", res.Subject)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "ada@example.com", transport.sent[0].to)

	sent := ledger.byAction(types.AuditNotificationSent)
	require.Len(t, sent, 1)
	e := sent[0]
	assert.Equal(t, "sub_1", e.SubjectID)
	assert.True(t, e.Success)
	assert.Equal(t, types.SeverityInfo, e.Severity)
	assert.True(t, e.Timestamp.Equal(t0))
	assert.Equal(t, "expiry_warning", e.Metadata[MetaType])
	assert.Equal(t, "Your subscription expires in 3 days", e.Metadata[MetaSubject])
	assert.Equal(t, "ada@example.com", e.Metadata[MetaRecipientEmail])
	assert.Equal(t, 3, e.Metadata[MetaDaysUntilExpiry])
}

func TestDispatcher_ExpiredOmitsThreshold(t *testing.T) {
	ledger := &memLedger{}
	d := newTestDispatcher(ledger, &fakeTransport{})

	_, err := d.Dispatch(context.Background(), types.NotificationIntent{UserID: "u_1", SubscriptionID: "sub_1", Type: types.NotificationExpired})
	require.NoError(t, err)

	sent := ledger.byAction(types.AuditNotificationSent)
	require.Len(t, sent, 1)
	_, ok := sent[0].Metadata[MetaDaysUntilExpiry]
	assert.False(t, ok)
}

func TestDispatcher_TagsExecutingJob(t *testing.T) {
	ledger := &memLedger{}
	d := newTestDispatcher(ledger, &fakeTransport{})

	ctx := types.WithJobID(context.Background(), "job_42")
	_, err := d.Dispatch(ctx, warningIntent(7))
	require.NoError(t, err)

	sent := ledger.byAction(types.AuditNotificationSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "job_42", sent[0].Metadata[MetaJobID])

	_, err = d.Dispatch(context.Background(), warningIntent(3))
	require.NoError(t, err)
	sent = ledger.byAction(types.AuditNotificationSent)
	require.Len(t, sent, 2)
	_, ok := sent[1].Metadata[MetaJobID]
	assert.False(t, ok)
}

func TestDispatcher_MissingProfileSendsNothing(t *testing.T) {
	for _, userID := range []string{"u_gone", "u_noemail"} {
		t.Run(userID, func(t *testing.T) {
			ledger := &memLedger{}
			transport := &fakeTransport{}
			d := newTestDispatcher(ledger, transport)

			intent := warningIntent(1)
			intent.UserID = userID
			_, err := d.Dispatch(context.Background(), intent)
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeRecipientNotFound, types.CodeOf(err))
			assert.Empty(t, transport.sent)
			assert.Empty(t, ledger.entries, "no audit entry for a missing recipient")
		})
	}
}

func TestDispatcher_TransportFailure(t *testing.T) {
	ledger := &memLedger{}
	transport := &fakeTransport{err: types.NewAppError(types.ErrCodeUpstreamEmailProvider, "503", nil)}
	d := newTestDispatcher(ledger, transport)

	_, err := d.Dispatch(context.Background(), warningIntent(7))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeDispatchFailed, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))

	assert.Empty(t, ledger.byAction(types.AuditNotificationSent))
	failed := ledger.byAction(types.AuditNotificationFailed)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Success)
	assert.Equal(t, types.SeverityWarning, failed[0].Severity)
	assert.Contains(t, failed[0].Metadata[MetaError], "503")
}

func TestDispatcher_AuditFailureAfterSendStillSucceeds(t *testing.T) {
	ledger := &memLedger{appendErr: errors.New("audit table locked")}
	transport := &fakeTransport{}
	d := newTestDispatcher(ledger, transport)

	res, err := d.Dispatch(context.Background(), warningIntent(3))
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Len(t, transport.sent, 1)
}

func TestDispatcher_UnknownTypeIsConfigurationError(t *testing.T) {
	ledger := &memLedger{}
	transport := &fakeTransport{}
	d := newTestDispatcher(ledger, transport)

	_, err := d.Dispatch(context.Background(), types.NotificationIntent{UserID: "u_1", SubscriptionID: "sub_1", Type: "renewed"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeConfiguration, types.CodeOf(err))
	assert.Empty(t, transport.sent)
}

// A successful dispatch is visible to the guard on the same day, so a second
// job for the same warning does not send again.
func TestDispatcherAndGuard_AtMostOncePerDay(t *testing.T) {
	ledger := &memLedger{}
	transport := &fakeTransport{}
	d := newTestDispatcher(ledger, transport)
	g := NewGuard(ledger, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if g.AlreadySent(ctx, "sub_1", types.NotificationExpiryWarning, 3, t0) {
			continue
		}
		_, err := d.Dispatch(ctx, warningIntent(3))
		require.NoError(t, err)
	}
	assert.Len(t, transport.sent, 1)

	// A failed send leaves no success record, so the next attempt goes out.
	transport.err = errors.New("timeout")
	_, err := d.Dispatch(ctx, warningIntent(1))
	require.Error(t, err)
	assert.False(t, g.AlreadySent(ctx, "sub_1", types.NotificationExpiryWarning, 1, t0))
}

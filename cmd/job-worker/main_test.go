package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"subwatch/internal/types"
)

type fakeRunner struct {
	mu        sync.Mutex
	results   map[string]error
	ran       []string
	ctxIDs    []string
	rejected  []string
	rejectErr error
}

func (f *fakeRunner) Run(ctx context.Context, job *types.Job) (types.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, job.ID)
	f.ctxIDs = append(f.ctxIDs, types.GetRequestID(ctx))
	if err := f.results[job.ID]; err != nil {
		return "", err
	}
	return types.JobCompleted, nil
}

func (f *fakeRunner) Reject(_ context.Context, id string, class types.JobClass, _ error) (types.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectErr != nil {
		return "", f.rejectErr
	}
	f.rejected = append(f.rejected, id+"/"+string(class))
	return types.JobDead, nil
}

func testHandler(r JobRunner) *Handler {
	return &Handler{
		runner:      r,
		concurrency: 2,
		logger:      &slogAdapter{logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	}
}

func envelope(t *testing.T, id string) string {
	t.Helper()
	job := types.Job{
		ID:          id,
		Class:       types.JobCleanup,
		Payload:     types.CleanupPayload{Target: types.CleanupNonces},
		MaxAttempts: 2,
		NotBefore:   time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(b)
}

func TestHandle_AllSucceed(t *testing.T) {
	runner := &fakeRunner{}
	h := testHandler(runner)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: envelope(t, "job-1")},
		{MessageId: "m2", Body: envelope(t, "job-2")},
		{MessageId: "m3", Body: envelope(t, "job-3")},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("expected no failures, got %+v", resp.BatchItemFailures)
	}

	sort.Strings(runner.ran)
	if strings.Join(runner.ran, ",") != "job-1,job-2,job-3" {
		t.Errorf("unexpected runs %v", runner.ran)
	}
	sort.Strings(runner.ctxIDs)
	if strings.Join(runner.ctxIDs, ",") != "m1,m2,m3" {
		t.Errorf("message ids not propagated as request ids: %v", runner.ctxIDs)
	}
}

func TestHandle_RetryableErrorsBecomeBatchFailures(t *testing.T) {
	runner := &fakeRunner{results: map[string]error{
		"job-2": types.NewAppError(types.ErrCodeInternalDB, "failed to claim job", errors.New("conn reset")),
		"job-3": types.NewAppError(types.ErrCodeConfiguration, "unknown job class", nil),
	}}
	h := testHandler(runner)

	resp, _ := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: envelope(t, "job-1")},
		{MessageId: "m2", Body: envelope(t, "job-2")},
		{MessageId: "m3", Body: envelope(t, "job-3")},
	}})

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Errorf("expected only m2 to be redelivered, got %+v", resp.BatchItemFailures)
	}
}

func TestHandle_MalformedEnvelopeIsAcked(t *testing.T) {
	runner := &fakeRunner{}
	h := testHandler(runner)

	resp, _ := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{not json"},
		{MessageId: "bad-class", Body: `{"id":"x","class":"reindex","payload":{}}`},
		{MessageId: "bad-payload", Body: `{"id":"y","class":"cleanup","payload":{"type":"sessions"}}`},
	}})

	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("malformed envelopes must be acked, got %+v", resp.BatchItemFailures)
	}
	if len(runner.ran) != 0 {
		t.Errorf("malformed envelopes must not run, ran %v", runner.ran)
	}

	sort.Strings(runner.rejected)
	if strings.Join(runner.rejected, ",") != "x/reindex,y/cleanup" {
		t.Errorf("envelopes naming a job must mark it dead, rejected %v", runner.rejected)
	}
}

func TestHandle_RejectStoreFailureIsRedelivered(t *testing.T) {
	runner := &fakeRunner{rejectErr: types.NewAppError(types.ErrCodeInternalDB, "failed to reject job", errors.New("conn reset"))}
	h := testHandler(runner)

	resp, _ := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{not json"},
		{MessageId: "bad-payload", Body: `{"id":"y","class":"cleanup","payload":{"type":"sessions"}}`},
	}})

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "bad-payload" {
		t.Errorf("expected only bad-payload to be redelivered, got %+v", resp.BatchItemFailures)
	}
}

func TestRunLocal_ReadsOneEvent(t *testing.T) {
	runner := &fakeRunner{}
	h := testHandler(runner)

	event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "m1", Body: envelope(t, "job-1")}}}
	raw, _ := json.Marshal(event)

	if err := runLocal(context.Background(), h, bytes.NewReader(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.ran) != 1 {
		t.Errorf("expected one run, got %v", runner.ran)
	}

	if err := runLocal(context.Background(), h, strings.NewReader("nope")); err == nil {
		t.Error("expected decode error")
	}
}

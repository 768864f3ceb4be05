package ingress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatorx7/logcore/pkg/model"
)

type fakeBatcher struct {
	mu        sync.Mutex
	submitted []model.Entry
	submitErr error
	flushed   bool
}

func (f *fakeBatcher) Submit(ctx context.Context, entry model.Entry) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, entry)
	return nil
}

func (f *fakeBatcher) FlushAll(ctx context.Context) error {
	f.flushed = true
	return nil
}

func (f *fakeBatcher) Shutdown(ctx context.Context, timeout time.Duration) error {
	return nil
}

type stackfulError struct{ stack string }

func (e *stackfulError) Error() string      { return "boom" }
func (e *stackfulError) StackTrace() string { return e.stack }

func TestService_Log_StampsTimeAndResolvesCollection(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	require.NoError(t, svc.Log(context.Background(), "", model.Entry{Message: "hi"}))

	require.Len(t, fb.submitted, 1)
	assert.Equal(t, "default-logs", fb.submitted[0].Collection)
	assert.WithinDuration(t, time.Now(), fb.submitted[0].Time, time.Second)
}

func TestService_Log_ExplicitCollectionWins(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	require.NoError(t, svc.Log(context.Background(), "audit", model.Entry{Message: "hi", Collection: "ignored"}))

	require.Len(t, fb.submitted, 1)
	assert.Equal(t, "audit", fb.submitted[0].Collection)
}

func TestService_Log_EntryCollectionUsedWhenRequestedIsEmpty(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	require.NoError(t, svc.Log(context.Background(), "", model.Entry{Message: "hi", Collection: "on-entry"}))

	require.Len(t, fb.submitted, 1)
	assert.Equal(t, "on-entry", fb.submitted[0].Collection)
}

func TestService_Log_OverwritesCallerSuppliedTime(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	stale := time.Now().Add(-24 * time.Hour)
	require.NoError(t, svc.Log(context.Background(), "", model.Entry{Message: "hi", Time: stale}))

	require.Len(t, fb.submitted, 1)
	assert.False(t, fb.submitted[0].Time.Equal(stale))
}

func TestService_LogError_WithoutStack(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	require.NoError(t, svc.LogError(context.Background(), "", assertError("disk full"), nil))

	require.Len(t, fb.submitted, 1)
	assert.Equal(t, "error", fb.submitted[0].Level)
	assert.Equal(t, "disk full", fb.submitted[0].Message)
	assert.Empty(t, fb.submitted[0].Stack)
}

func TestService_LogError_WithStack(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	err := &stackfulError{stack: "at foo()\nat bar()"}
	require.NoError(t, svc.LogError(context.Background(), "errors", err, map[string]interface{}{"k": "v"}))

	require.Len(t, fb.submitted, 1)
	assert.Equal(t, "boom", fb.submitted[0].Message)
	assert.Equal(t, "at foo()\nat bar()", fb.submitted[0].Stack)
	assert.Equal(t, "errors", fb.submitted[0].Collection)
}

func TestService_LogError_NilError(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	require.NoError(t, svc.LogError(context.Background(), "", nil, nil))

	require.Len(t, fb.submitted, 1)
	assert.Equal(t, "An unknown error occurred", fb.submitted[0].Message)
	assert.NotEmpty(t, fb.submitted[0].Attributes["errorDetails"])
}

func TestService_Flush_DelegatesToBatcher(t *testing.T) {
	fb := &fakeBatcher{}
	svc := New(fb, "default-logs")

	require.NoError(t, svc.Flush(context.Background()))
	assert.True(t, fb.flushed)
}

type assertError string

func (e assertError) Error() string { return string(e) }

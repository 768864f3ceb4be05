package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/predatorx7/logcore/pkg/auth"
	"github.com/predatorx7/logcore/pkg/ingress"
	"github.com/predatorx7/logcore/pkg/model"
)

// fakeBatcher records every submitted entry; it implements ingress.Batcher.
type fakeBatcher struct {
	mu        sync.Mutex
	submitted []model.Entry
	submitErr error
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

func (f *fakeBatcher) FlushAll(ctx context.Context) error { return nil }

func (f *fakeBatcher) Shutdown(ctx context.Context, timeout time.Duration) error { return nil }

func mockVerifierValid(key string) (bool, string, string, error) {
	return true, "test-client", auth.WildcardCollection, nil
}

func mockVerifierInvalid(key string) (bool, string, string, error) {
	return false, "", "", nil
}

// mockVerifierScoped returns a verifier whose key only authorizes the
// given collection, used to exercise the forbidden-collection path.
func mockVerifierScoped(collection string) func(string) (bool, string, string, error) {
	return func(key string) (bool, string, string, error) {
		return true, "test-client", collection, nil
	}
}

func TestHandler_HandleLogs(t *testing.T) {
	fb := &fakeBatcher{}
	svc := ingress.New(fb, "logs")
	handler := NewHandler(svc, mockVerifierValid)

	entries := []wireEntry{{Message: "msg1", Level: "info"}}
	body, _ := json.Marshal(entries)

	req := httptest.NewRequest("POST", "/v1/logs", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "valid-key")
	w := httptest.NewRecorder()

	handler.HandleLogs(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", w.Code)
	}
	fb.mu.Lock()
	submitted := len(fb.submitted)
	fb.mu.Unlock()
	if submitted != 1 {
		t.Errorf("expected 1 entry submitted, got %d", submitted)
	}

	// Missing API key
	req = httptest.NewRequest("POST", "/v1/logs", bytes.NewReader(body))
	w = httptest.NewRecorder()
	handler.HandleLogs(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 on missing key, got %d", w.Code)
	}

	// Invalid API key
	invalidHandler := NewHandler(svc, mockVerifierInvalid)
	req = httptest.NewRequest("POST", "/v1/logs", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "invalid-key")
	w = httptest.NewRecorder()
	invalidHandler.HandleLogs(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 on invalid key, got %d", w.Code)
	}

	// Malformed JSON
	req = httptest.NewRequest("POST", "/v1/logs", bytes.NewReader([]byte("{bad json")))
	req.Header.Set("X-API-Key", "valid-key")
	w = httptest.NewRecorder()
	handler.HandleLogs(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad json, got %d", w.Code)
	}

	// Key scoped to a different collection than the entry targets
	scopedHandler := NewHandler(svc, mockVerifierScoped("billing-logs"))
	otherEntries := []wireEntry{{Message: "msg1", Collection: "logs"}}
	otherBody, _ := json.Marshal(otherEntries)
	req = httptest.NewRequest("POST", "/v1/logs", bytes.NewReader(otherBody))
	req.Header.Set("X-API-Key", "scoped-key")
	w = httptest.NewRecorder()
	scopedHandler.HandleLogs(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 on mismatched collection scope, got %d", w.Code)
	}

	// Batcher error
	fb.submitErr = errors.New("batch fail")
	req = httptest.NewRequest("POST", "/v1/logs", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "valid-key")
	w = httptest.NewRecorder()
	handler.HandleLogs(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on batcher error, got %d", w.Code)
	}
}

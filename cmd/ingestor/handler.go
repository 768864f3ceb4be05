package main

import (
	"encoding/json"
	"net/http"

	"github.com/predatorx7/logcore/pkg/auth"
	"github.com/predatorx7/logcore/pkg/ingress"
	"github.com/predatorx7/logcore/pkg/model"
)

// wireEntry is the JSON shape a caller submits: a subset of model.Entry
// without the server-controlled Collection/Time fields, plus an optional
// per-entry collection override.
type wireEntry struct {
	Collection string                 `json:"collection,omitempty"`
	Level      string                 `json:"level,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Stack      string                 `json:"stack,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Handler is the /v1/logs HTTP surface. It authenticates, decodes a batch
// of entries, checks the caller's key against the collection each entry
// actually targets, and hands each to the Ingress Service in turn. A
// payload that does not decode is rejected whole; the first entry that
// fails the scope check or submission ends the request with an error, and
// entries before it stay submitted.
type Handler struct {
	ingress  *ingress.Service
	verifier func(string) (bool, string, string, error)
}

// NewHandler builds a Handler. verifier reports whether a key is valid
// and, if so, the client ID that issued it and the collection scope
// (auth.WildcardCollection for "any collection") the key authorizes.
func NewHandler(svc *ingress.Service, verifier func(string) (bool, string, string, error)) *Handler {
	return &Handler{ingress: svc, verifier: verifier}
}

func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		http.Error(w, "Missing API Key", http.StatusUnauthorized)
		return
	}

	valid, _, scope, err := h.verifier(apiKey)
	if !valid || err != nil {
		http.Error(w, "Invalid API Key", http.StatusUnauthorized)
		return
	}

	var entries []wireEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		http.Error(w, "Invalid Payload", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, we := range entries {
		target := h.ingress.ResolveCollection(we.Collection, "")
		if !auth.Authorizes(scope, target) {
			http.Error(w, "API key not authorized for collection "+target, http.StatusForbidden)
			return
		}

		entry := model.Entry{
			Level:      we.Level,
			Message:    we.Message,
			Metadata:   we.Metadata,
			Stack:      we.Stack,
			Attributes: we.Attributes,
		}
		if err := h.ingress.Log(r.Context(), we.Collection, entry); err != nil {
			http.Error(w, "Failed to ingest logs", http.StatusInternalServerError)
			return
		}
		accepted++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "accepted",
		"accepted": accepted,
	})
}

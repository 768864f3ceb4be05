// Package ingress is the application-facing submission surface. It does
// no I/O of its own — it stamps and shapes log entries, then hands them to
// the Batch Manager. This is the Ingress Service described as C3.
package ingress

import (
	"context"
	"fmt"
	"time"

	"github.com/predatorx7/logcore/pkg/model"
)

// Batcher is the subset of the Batch Manager the Ingress Service needs.
// Kept as an interface, the way the teacher's handler depends on
// broker.Broker rather than a concrete type.
type Batcher interface {
	Submit(ctx context.Context, entry model.Entry) error
	FlushAll(ctx context.Context) error
	Shutdown(ctx context.Context, timeout time.Duration) error
}

// Service is the Ingress Service (C3).
type Service struct {
	batch             Batcher
	defaultCollection string
}

// New constructs an Ingress Service that routes to batch, defaulting to
// defaultCollection when a caller omits one.
func New(batch Batcher, defaultCollection string) *Service {
	if defaultCollection == "" {
		defaultCollection = "logs"
	}
	return &Service{batch: batch, defaultCollection: defaultCollection}
}

// Log stamps entry with the current time and the resolved destination
// collection, then submits it. An explicit Time on entry is always
// overwritten — the documented policy for §8's timestamp round-trip law.
func (s *Service) Log(ctx context.Context, collection string, entry model.Entry) error {
	entry.Time = time.Now()
	entry.Collection = s.resolveCollection(collection, entry.Collection)
	return s.batch.Submit(ctx, entry)
}

func (s *Service) resolveCollection(requested, onEntry string) string {
	if requested != "" {
		return requested
	}
	if onEntry != "" {
		return onEntry
	}
	return s.defaultCollection
}

// ResolveCollection applies the same precedence Log uses (explicit
// request override, then an entry-carried collection, then the service
// default) without submitting anything. The sample HTTP handler uses this
// to check a caller's collection-scoped API key before Log runs.
func (s *Service) ResolveCollection(requested, onEntry string) string {
	return s.resolveCollection(requested, onEntry)
}

// stackTracer is the minimal shape LogError looks for on err: if an error
// exposes a stack trace, attach it rather than falling back to a bare
// message.
type stackTracer interface {
	StackTrace() string
}

// LogError derives a {level: "error", message, stack} entry from err. If
// err exposes a StackTrace() string method, that is attached; otherwise
// the entry carries only the error's message. metadata, if non-nil, is
// merged onto the entry's metadata bag.
func (s *Service) LogError(ctx context.Context, collection string, err error, metadata map[string]interface{}) error {
	entry := model.Entry{Level: "error", Metadata: metadata}

	if err == nil {
		entry.Message = "An unknown error occurred"
		entry.Attributes = map[string]interface{}{"errorDetails": fmt.Sprintf("%#v", err)}
	} else {
		entry.Message = err.Error()
		if st, ok := err.(stackTracer); ok {
			entry.Stack = st.StackTrace()
		}
	}

	entry.Time = time.Now()
	entry.Collection = s.resolveCollection(collection, "")
	return s.batch.Submit(ctx, entry)
}

// Flush delegates to the Batch Manager's FlushAll.
func (s *Service) Flush(ctx context.Context) error {
	return s.batch.FlushAll(ctx)
}

// Shutdown delegates to the Batch Manager's Shutdown.
func (s *Service) Shutdown(ctx context.Context, timeout time.Duration) error {
	if err := s.batch.Shutdown(ctx, timeout); err != nil {
		return fmt.Errorf("ingress: shutdown: %w", err)
	}
	return nil
}

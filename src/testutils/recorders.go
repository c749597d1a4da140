package testutils

import (
	"carepay/src/lib"
	"context"
	"sync"
)

type RecordingPublisher struct {
	mu     sync.Mutex
	Events []lib.Event
}

func (r *RecordingPublisher) Publish(ctx context.Context, e lib.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
	return nil
}

// Types returns the published event types in order.
func (r *RecordingPublisher) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}

type RecordingAlerter struct {
	mu       sync.Mutex
	Subjects []string
}

func (r *RecordingAlerter) Alert(ctx context.Context, subject string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Subjects = append(r.Subjects, subject)
	return nil
}

type RecordingArchiver struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func (r *RecordingArchiver) Archive(ctx context.Context, key string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Objects == nil {
		r.Objects = map[string][]byte{}
	}
	r.Objects[key] = body
	return nil
}

package expect

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Key names inside a namespace. They match the preference keys written by the
// legacy mobile client so an exported record can be read back unchanged.
const (
	KeyShouldRun    = "should_be_generating"
	KeyLastTitle    = "last_title"
	KeyLastBody     = "last_body"
	KeyHeartbeatRun = "heartbeat_run"
	KeyHeartbeatAt  = "heartbeat_at"
)

const (
	DefaultNamespace = "genkeep"
	DefaultTitle     = "Resuming..."
	DefaultBody      = "Restoring connection..."
)

// Expectation records whether a background task should currently be running
// together with the last title/body shown for it.
type Expectation struct {
	ShouldBeRunning bool   `json:"should_be_running"`
	LastTitle       string `json:"last_title"`
	LastBody        string `json:"last_body"`
}

// Heartbeat is written periodically by a running runner. A zero At means none.
type Heartbeat struct {
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
}

func (h Heartbeat) IsZero() bool { return h.At.IsZero() }

// KV is the durable key/value backend a Store persists through.
// Apply must write puts and deletes atomically.
type KV interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context, namespace string) (map[string]string, error)
	Apply(ctx context.Context, namespace string, put map[string]string, del []string) error
	Close() error
}

// Store is the process-wide expectation record, keyed by a fixed namespace.
type Store struct {
	kv KV
	ns string
}

func New(kv KV, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{kv: kv, ns: namespace}
}

func (s *Store) Namespace() string { return s.ns }

func (s *Store) EnsureSchema(ctx context.Context) error { return s.kv.EnsureSchema(ctx) }

func (s *Store) Close() error { return s.kv.Close() }

// Set records whether the task should be running. title and body are only
// updated when non-nil.
func (s *Store) Set(ctx context.Context, running bool, title, body *string) error {
	put := map[string]string{KeyShouldRun: strconv.FormatBool(running)}
	if title != nil {
		put[KeyLastTitle] = *title
	}
	if body != nil {
		put[KeyLastBody] = *body
	}
	if err := s.kv.Apply(ctx, s.ns, put, nil); err != nil {
		return fmt.Errorf("set expectation: %w", err)
	}
	return nil
}

// Get returns the current expectation. Unset keys take their defaults; on a
// load error the defaults are returned together with the error.
func (s *Store) Get(ctx context.Context) (Expectation, error) {
	e := Expectation{LastTitle: DefaultTitle, LastBody: DefaultBody}
	m, err := s.kv.Load(ctx, s.ns)
	if err != nil {
		return e, fmt.Errorf("get expectation: %w", err)
	}
	if v, ok := m[KeyShouldRun]; ok {
		e.ShouldBeRunning, _ = strconv.ParseBool(v)
	}
	if v, ok := m[KeyLastTitle]; ok {
		e.LastTitle = v
	}
	if v, ok := m[KeyLastBody]; ok {
		e.LastBody = v
	}
	return e, nil
}

func (s *Store) Beat(ctx context.Context, hb Heartbeat) error {
	put := map[string]string{
		KeyHeartbeatRun: hb.RunID,
		KeyHeartbeatAt:  hb.At.UTC().Format(time.RFC3339Nano),
	}
	if err := s.kv.Apply(ctx, s.ns, put, nil); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// LastBeat returns the most recent heartbeat, or a zero Heartbeat if none was written.
func (s *Store) LastBeat(ctx context.Context) (Heartbeat, error) {
	m, err := s.kv.Load(ctx, s.ns)
	if err != nil {
		return Heartbeat{}, fmt.Errorf("read heartbeat: %w", err)
	}
	raw, ok := m[KeyHeartbeatAt]
	if !ok || raw == "" {
		return Heartbeat{}, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Heartbeat{}, fmt.Errorf("parse heartbeat time %q: %w", raw, err)
	}
	return Heartbeat{RunID: m[KeyHeartbeatRun], At: at}, nil
}

func (s *Store) ClearBeat(ctx context.Context) error {
	if err := s.kv.Apply(ctx, s.ns, nil, []string{KeyHeartbeatRun, KeyHeartbeatAt}); err != nil {
		return fmt.Errorf("clear heartbeat: %w", err)
	}
	return nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/antoniostano/aria/internal/protocol"
)

// Tool is a callable the model can invoke mid-response. Execute receives the
// raw JSON arguments from the tool_call event and returns the text fed back
// to the model.
type Tool interface {
	Name() string
	Spec() protocol.ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the tools advertised in the session configuration and
// resolves tool_call events by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
	}
}

func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Specs returns the tool declarations for session.update, sorted by name so
// the configuration payload is stable across reconnects.
func (r *Registry) Specs() []protocol.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]protocol.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke runs the named tool with a bounded execution window. An unknown
// name or a failed execution returns an error text the caller hands back to
// the model as the tool result, never a crashed pipeline.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := t.Execute(ctx, args)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("tool %s: %w", name, res.err)
		}
		return res.text, nil
	case <-ctx.Done():
		return "", fmt.Errorf("tool %s: %w", name, ctx.Err())
	}
}

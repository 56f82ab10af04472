// Package messaging carries JSON request/response messages between the
// execution contexts. Contexts share nothing but the bus; every request is
// encoded on send and decoded by the receiving handler.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrNoEndpoint = errors.New("no endpoint registered")

// Message is a received request. Handlers decode it into the request type
// of its action.
type Message struct {
	Action Action
	raw    []byte
}

func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.raw, v); err != nil {
		return fmt.Errorf("failed to decode %s request: %w", m.Action, err)
	}
	return nil
}

// HandlerFunc answers one request. A returned error is sent back as
// {"error": "..."}.
type HandlerFunc func(ctx context.Context, msg Message) (any, error)

type envelope struct {
	msg   Message
	reply chan []byte
}

// Endpoint is one execution context's inbox. Serve handles requests one at
// a time, so a handler must not wait on a request to its own endpoint.
type Endpoint struct {
	name     string
	inbox    chan envelope
	mu       sync.RWMutex
	handlers map[Action]HandlerFunc
}

func (e *Endpoint) Name() string {
	return e.name
}

func (e *Endpoint) Handle(action Action, fn HandlerFunc) {
	e.mu.Lock()
	e.handlers[action] = fn
	e.mu.Unlock()
}

// Serve processes requests until ctx is done.
func (e *Endpoint) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-e.inbox:
			env.reply <- e.dispatch(ctx, env.msg)
		}
	}
}

func (e *Endpoint) dispatch(ctx context.Context, msg Message) []byte {
	e.mu.RLock()
	fn, ok := e.handlers[msg.Action]
	e.mu.RUnlock()

	var resp any
	if !ok {
		resp = ErrorResponse{Error: fmt.Sprintf("unknown action: %s", msg.Action)}
	} else {
		out, err := fn(ctx, msg)
		if err != nil {
			log.Debug().Err(err).Str("endpoint", e.name).Str("action", string(msg.Action)).Msg("handler failed")
			resp = ErrorResponse{Error: err.Error()}
		} else {
			resp = out
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(ErrorResponse{Error: fmt.Sprintf("failed to encode response: %v", err)})
	}
	return data
}

type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*Endpoint)}
}

// Register creates the endpoint for name, replacing any previous one.
func (b *Bus) Register(name string) *Endpoint {
	ep := &Endpoint{
		name:     name,
		inbox:    make(chan envelope, 16),
		handlers: make(map[Action]HandlerFunc),
	}
	b.mu.Lock()
	b.endpoints[name] = ep
	b.mu.Unlock()
	return ep
}

func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	delete(b.endpoints, name)
	b.mu.Unlock()
}

func (b *Bus) Registered(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.endpoints[name]
	return ok
}

// Send delivers req to target and waits for the encoded response.
func (b *Bus) Send(ctx context.Context, target string, req any) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var head struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Action == "" {
		return nil, errors.New("request has no action")
	}

	b.mu.RLock()
	ep, ok := b.endpoints[target]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, target)
	}

	env := envelope{msg: Message{Action: head.Action, raw: raw}, reply: make(chan []byte, 1)}
	select {
	case ep.inbox <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case data := <-env.reply:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call sends req to target and decodes the response into T.
func Call[T any](ctx context.Context, b *Bus, target string, req any) (T, error) {
	var out T
	data, err := b.Send(ctx, target, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

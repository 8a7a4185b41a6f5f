// Package connector defines the UpstreamConnector capability of spec §4.5:
// one abstraction over a single MCP upstream, independent of wire
// transport. The concrete transport lives in internal/connector/mcpsdk;
// this package only depends on the shapes MCP operations carry.
package connector

import (
	"context"
	"sync"

	"github.com/mcpbundler/gateway/internal/apierr"
)

// State is the connection state machine of spec §4.5:
// IDLE -> CONNECTING -> CONNECTED -> DISCONNECTED -> CONNECTING -> ...
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	StateFailed       State = "CONNECTION_FAILED"
)

// Event is one of the fixed event kinds a connector emits, spec §4.5.
type Event string

const (
	EventConnected            Event = "CONNECTED"
	EventDisconnected         Event = "DISCONNECTED"
	EventConnectionFailed     Event = "CONNECTION_FAILED"
	EventReconnectionAttempt  Event = "RECONNECTION_ATTEMPT"
	EventShutdown             Event = "SHUTDOWN"
	EventToolsListChanged     Event = "TOOLS_LIST_CHANGED"
	EventResourcesListChanged Event = "RESOURCES_LIST_CHANGED"
	EventPromptsListChanged   Event = "PROMPTS_LIST_CHANGED"
)

// Handler receives an emitted event.
type Handler func(Event)

// Tool mirrors the MCP tool descriptor carried across the wire.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Meta        map[string]any `json:"_meta,omitempty"`
}

// Resource mirrors the MCP resource descriptor.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate mirrors the MCP resource-template descriptor.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt mirrors the MCP prompt descriptor.
type Prompt struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Arguments   []PromptArg    `json:"arguments,omitempty"`
	Meta        map[string]any `json:"_meta,omitempty"`
}

// PromptArg is one named argument of a Prompt.
type PromptArg struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Content is one block of a tool/prompt result, e.g. text or embedded
// resource content, shaped after MCP's ContentBlock union.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// CallToolResult is the MCP result shape for a tool invocation.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ResourceContent is one item of a ReadResourceResult.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the MCP result shape for resources/read.
type ReadResourceResult struct {
	Contents []ResourceContent `json:"contents"`
}

// PromptMessage is one message of a GetPromptResult.
type PromptMessage struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// GetPromptResult is the MCP result shape for prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Capabilities is the subset of an MCP server's declared capabilities the
// gateway cares about.
type Capabilities struct {
	Tools     bool
	Resources bool
	Prompts   bool
}

// Connector is the abstract capability of spec §4.5: one MCP client,
// connect/disconnect/reconnect lifecycle, event subscription, and one
// method per MCP operation.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	IsConnected() bool
	GetNamespace() string
	GetCapabilities() Capabilities

	CallTool(ctx context.Context, name string, arguments map[string]any) (*CallToolResult, error)
	ListTools(ctx context.Context) ([]Tool, error)
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error)
	ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error)

	// Subscribe registers handler for event and returns an unsubscribe
	// function. Subscription is one-to-many (many handlers may observe the
	// same event); calling the returned func is the only way to remove a
	// given registration, so the "last-writer-wins removal" of spec §4.5
	// is the caller discarding an earlier unsubscribe func in favor of a
	// fresh Subscribe/unsubscribe pair.
	Subscribe(event Event, handler Handler) (unsubscribe func())
}

// Emitter is the shared one-to-many event dispatcher embedded by every
// Connector implementation (spec §4.5: "event subscription ... not a
// topic queue").
type Emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Event]map[uint64]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[Event]map[uint64]Handler)}
}

func (e *Emitter) Subscribe(event Event, handler Handler) func() {
	e.mu.Lock()
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[uint64]Handler)
	}
	id := e.nextID
	e.nextID++
	e.handlers[event][id] = handler
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers[event], id)
		e.mu.Unlock()
	}
}

// Emit calls every handler registered for event, synchronously, in
// unspecified order.
func (e *Emitter) Emit(event Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[event]))
	for _, h := range e.handlers[event] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// ErrNotConnected is returned (wrapped by apierr.NotConnected) by every
// operation invoked while the connector is not in StateConnected, spec
// §4.5.
func ErrNotConnected(namespace string) error {
	return apierr.NotConnected(namespace)
}

// Base holds the state bookkeeping shared by every Connector
// implementation: the current State guarded by a mutex, and the Emitter.
type Base struct {
	mu        sync.RWMutex
	state     State
	namespace string
	Events    *Emitter
}

func NewBase(namespace string) Base {
	return Base{state: StateIdle, namespace: namespace, Events: NewEmitter()}
}

func (b *Base) GetNamespace() string { return b.namespace }

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) SetState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Base) IsConnected() bool { return b.State() == StateConnected }

func (b *Base) Subscribe(event Event, handler Handler) func() {
	return b.Events.Subscribe(event, handler)
}

// RequireConnected returns apierr.NotConnected unless the base is in
// StateConnected, spec §4.5 ("while not CONNECTED, all operations fail
// with NotConnected").
func (b *Base) RequireConnected() error {
	if !b.IsConnected() {
		return ErrNotConnected(b.namespace)
	}
	return nil
}

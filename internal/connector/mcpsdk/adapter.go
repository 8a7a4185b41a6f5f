// Package mcpsdk is the concrete UpstreamConnector (spec §4.5), built on
// modelcontextprotocol/go-sdk's mcp.Client the way the teacher's
// pkg/mcp.remoteMCPClient builds its remote client: pick a transport from
// config, connect, and translate every MCP call through the SDK's client
// session.
package mcpsdk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gosdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpbundler/gateway/internal/connector"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/gwlog"
	"github.com/mcpbundler/gateway/internal/retry"
)

// Transport selects the wire transport for a remote MCP endpoint.
type Transport string

const (
	TransportStreamable Transport = "streamable"
	TransportSSE        Transport = "sse"
)

// Config is everything the adapter needs to dial one upstream.
type Config struct {
	Namespace string
	URL       string
	Transport Transport
	Auth      domain.AuthConfig
}

// authRoundTripper attaches the resolved AuthConfig to every outbound
// request, grounded on pkg/mcp/remote.go's headerRoundTripper.
type authRoundTripper struct {
	base http.RoundTripper
	auth domain.AuthConfig
}

func (rt *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	switch rt.auth.Method {
	case domain.AuthMethodBearer:
		clone.Header.Set("Authorization", "Bearer "+rt.auth.Token)
	case domain.AuthMethodBasic:
		clone.SetBasicAuth(rt.auth.Username, rt.auth.Password)
	case domain.AuthMethodAPIKey:
		header := rt.auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		clone.Header.Set(header, rt.auth.Key)
	}
	return rt.base.RoundTrip(clone)
}

// Adapter is the concrete Connector talking to one MCP upstream over
// HTTP (streamable or SSE), spec §4.5.
type Adapter struct {
	connector.Base

	cfg     Config
	client  *gosdk.Client
	session *gosdk.ClientSession
}

// New constructs an unconnected Adapter for cfg. Connect must be called
// before any operation succeeds (spec §4.5: "while not CONNECTED, all
// operations fail with NotConnected").
func New(cfg Config) *Adapter {
	return &Adapter{Base: connector.NewBase(cfg.Namespace), cfg: cfg}
}

func (a *Adapter) transport() (gosdk.Transport, error) {
	httpClient := &http.Client{
		Transport: &authRoundTripper{base: http.DefaultTransport, auth: a.cfg.Auth},
	}
	switch strings.ToLower(string(a.cfg.Transport)) {
	case string(TransportSSE):
		return &gosdk.SSEClientTransport{Endpoint: a.cfg.URL, HTTPClient: httpClient}, nil
	case "", string(TransportStreamable):
		return &gosdk.StreamableClientTransport{Endpoint: a.cfg.URL, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("mcpsdk: unsupported transport %q", a.cfg.Transport)
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.SetState(connector.StateConnecting)

	transport, err := a.transport()
	if err != nil {
		a.SetState(connector.StateFailed)
		a.Events.Emit(connector.EventConnectionFailed)
		return err
	}

	a.client = gosdk.NewClient(&gosdk.Implementation{
		Name:    "mcpbundler-gateway",
		Version: "1.0.0",
	}, nil)

	session, err := a.client.Connect(ctx, transport, nil)
	if err != nil {
		a.SetState(connector.StateFailed)
		a.Events.Emit(connector.EventConnectionFailed)
		return fmt.Errorf("mcpsdk: connect %s: %w", a.cfg.URL, err)
	}

	a.session = session
	a.SetState(connector.StateConnected)
	a.Events.Emit(connector.EventConnected)
	return nil
}

func (a *Adapter) Disconnect(_ context.Context) error {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			gwlog.Warn("error closing upstream session", map[string]any{
				"namespace": a.cfg.Namespace,
				"error":     err.Error(),
			})
		}
	}
	a.SetState(connector.StateDisconnected)
	a.Events.Emit(connector.EventDisconnected)
	return nil
}

// reconnectAttempts/reconnectBackoff bound Reconnect's retry loop; the MCP
// spec and spec §4.5 both leave the retry policy unspecified, so this
// picks a small, fixed bounded-retry-with-backoff policy rather than
// retrying forever.
const (
	reconnectAttempts = 3
	reconnectBackoff  = 500 * time.Millisecond
)

func (a *Adapter) Reconnect(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	return retry.Retry(ctx, reconnectAttempts, reconnectBackoff, func() error {
		a.Events.Emit(connector.EventReconnectionAttempt)
		return a.Connect(ctx)
	})
}

func (a *Adapter) GetCapabilities() connector.Capabilities {
	// The SDK negotiates capabilities during initialize; this gateway
	// treats all three surfaces as present and lets empty list results
	// speak for a server that declares none.
	return connector.Capabilities{Tools: true, Resources: true, Prompts: true}
}

func (a *Adapter) ListTools(ctx context.Context) ([]connector.Tool, error) {
	if err := a.RequireConnected(); err != nil {
		return nil, err
	}
	res, err := a.session.ListTools(ctx, &gosdk.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("mcpsdk: list tools: %w", err)
	}
	out := make([]connector.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, connector.Tool{
			Name:        t.Name,
			Description: t.Description,
		})
	}
	return out, nil
}

func (a *Adapter) ListResources(ctx context.Context) ([]connector.Resource, error) {
	if err := a.RequireConnected(); err != nil {
		return nil, err
	}
	res, err := a.session.ListResources(ctx, &gosdk.ListResourcesParams{})
	if err != nil {
		return nil, fmt.Errorf("mcpsdk: list resources: %w", err)
	}
	out := make([]connector.Resource, 0, len(res.Resources))
	for _, r := range res.Resources {
		out = append(out, connector.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MIMEType,
		})
	}
	return out, nil
}

func (a *Adapter) ListResourceTemplates(ctx context.Context) ([]connector.ResourceTemplate, error) {
	if err := a.RequireConnected(); err != nil {
		return nil, err
	}
	res, err := a.session.ListResourceTemplates(ctx, &gosdk.ListResourceTemplatesParams{})
	if err != nil {
		return nil, fmt.Errorf("mcpsdk: list resource templates: %w", err)
	}
	out := make([]connector.ResourceTemplate, 0, len(res.ResourceTemplates))
	for _, t := range res.ResourceTemplates {
		out = append(out, connector.ResourceTemplate{
			URITemplate: t.URITemplate,
			Name:        t.Name,
			Description: t.Description,
			MimeType:    t.MIMEType,
		})
	}
	return out, nil
}

func (a *Adapter) ListPrompts(ctx context.Context) ([]connector.Prompt, error) {
	if err := a.RequireConnected(); err != nil {
		return nil, err
	}
	res, err := a.session.ListPrompts(ctx, &gosdk.ListPromptsParams{})
	if err != nil {
		return nil, fmt.Errorf("mcpsdk: list prompts: %w", err)
	}
	out := make([]connector.Prompt, 0, len(res.Prompts))
	for _, p := range res.Prompts {
		args := make([]connector.PromptArg, 0, len(p.Arguments))
		for _, arg := range p.Arguments {
			args = append(args, connector.PromptArg{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			})
		}
		out = append(out, connector.Prompt{Name: p.Name, Description: p.Description, Arguments: args})
	}
	return out, nil
}

func (a *Adapter) CallTool(ctx context.Context, name string, arguments map[string]any) (*connector.CallToolResult, error) {
	if err := a.RequireConnected(); err != nil {
		return nil, err
	}
	res, err := a.session.CallTool(ctx, &gosdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("mcpsdk: call tool %s: %w", name, err)
	}
	return &connector.CallToolResult{Content: convertContent(res.Content), IsError: res.IsError}, nil
}

func (a *Adapter) ReadResource(ctx context.Context, uri string) (*connector.ReadResourceResult, error) {
	if err := a.RequireConnected(); err != nil {
		return nil, err
	}
	res, err := a.session.ReadResource(ctx, &gosdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("mcpsdk: read resource %s: %w", uri, err)
	}
	contents := make([]connector.ResourceContent, 0, len(res.Contents))
	for _, c := range res.Contents {
		contents = append(contents, connector.ResourceContent{
			URI:      c.URI,
			MimeType: c.MIMEType,
			Text:     c.Text,
			Blob:     string(c.Blob),
		})
	}
	return &connector.ReadResourceResult{Contents: contents}, nil
}

func (a *Adapter) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*connector.GetPromptResult, error) {
	if err := a.RequireConnected(); err != nil {
		return nil, err
	}
	res, err := a.session.GetPrompt(ctx, &gosdk.GetPromptParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("mcpsdk: get prompt %s: %w", name, err)
	}
	messages := make([]connector.PromptMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		messages = append(messages, connector.PromptMessage{
			Role:    string(m.Role),
			Content: convertContent([]gosdk.Content{m.Content}),
		})
	}
	return &connector.GetPromptResult{Description: res.Description, Messages: messages}, nil
}

func convertContent(blocks []gosdk.Content) []connector.Content {
	out := make([]connector.Content, 0, len(blocks))
	for _, b := range blocks {
		switch c := b.(type) {
		case *gosdk.TextContent:
			out = append(out, connector.Content{Type: "text", Text: c.Text})
		case *gosdk.ImageContent:
			out = append(out, connector.Content{Type: "image", Data: string(c.Data), MimeType: c.MIMEType})
		case *gosdk.EmbeddedResource:
			out = append(out, connector.Content{Type: "resource", URI: c.Resource.URI, MimeType: c.Resource.MIMEType})
		default:
			out = append(out, connector.Content{Type: "unknown"})
		}
	}
	return out
}

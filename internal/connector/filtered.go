package connector

import (
	"context"
	"fmt"

	"github.com/mcpbundler/gateway/internal/apierr"
	"github.com/mcpbundler/gateway/internal/domain"
	"github.com/mcpbundler/gateway/internal/namespace"
	"github.com/mcpbundler/gateway/internal/permission"
)

// Filtered wraps a base Connector plus a (config, namespace resolver,
// permission filter) triple, spec §4.5. It is itself a Connector, so a
// Session treats pooled and non-pooled, filtered and raw connectors
// uniformly.
type Filtered struct {
	delegate  Connector
	namespace string
	perms     domain.Permissions
	resolver  *namespace.Resolver
}

// NewFiltered constructs the decorator for one attached upstream.
func NewFiltered(delegate Connector, ns string, perms domain.Permissions, resolver *namespace.Resolver) *Filtered {
	return &Filtered{delegate: delegate, namespace: ns, perms: perms, resolver: resolver}
}

func (f *Filtered) Connect(ctx context.Context) error    { return f.delegate.Connect(ctx) }
func (f *Filtered) Disconnect(ctx context.Context) error { return f.delegate.Disconnect(ctx) }
func (f *Filtered) Reconnect(ctx context.Context) error  { return f.delegate.Reconnect(ctx) }
func (f *Filtered) IsConnected() bool                    { return f.delegate.IsConnected() }
func (f *Filtered) GetNamespace() string                 { return f.namespace }
func (f *Filtered) GetCapabilities() Capabilities        { return f.delegate.GetCapabilities() }
func (f *Filtered) Subscribe(event Event, h Handler) func() {
	return f.delegate.Subscribe(event, h)
}

func (f *Filtered) ListTools(ctx context.Context) ([]Tool, error) {
	tools, err := f.delegate.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if !permission.IsToolAllowed(&f.perms, t.Name) {
			continue
		}
		named := f.resolver.NamespaceName(f.namespace, t.Name)
		t.Name = named.Name
		if named.Hashed {
			if t.Meta == nil {
				t.Meta = map[string]any{}
			}
			t.Meta["mcpbundler/namespacedFrom"] = named.Meta
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *Filtered) ListPrompts(ctx context.Context) ([]Prompt, error) {
	prompts, err := f.delegate.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Prompt, 0, len(prompts))
	for _, p := range prompts {
		if !permission.IsPromptAllowed(&f.perms, p.Name) {
			continue
		}
		named := f.resolver.NamespaceName(f.namespace, p.Name)
		p.Name = named.Name
		if named.Hashed {
			if p.Meta == nil {
				p.Meta = map[string]any{}
			}
			p.Meta["mcpbundler/namespacedFrom"] = named.Meta
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *Filtered) ListResources(ctx context.Context) ([]Resource, error) {
	resources, err := f.delegate.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		if !permission.IsResourceAllowed(&f.perms, r.URI) {
			continue
		}
		r.URI = namespace.NamespaceURI(f.namespace, r.URI)
		out = append(out, r)
	}
	return out, nil
}

func (f *Filtered) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	templates, err := f.delegate.ListResourceTemplates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceTemplate, 0, len(templates))
	for _, t := range templates {
		if !permission.IsResourceAllowed(&f.perms, t.URITemplate) {
			continue
		}
		t.URITemplate = namespace.NamespaceURI(f.namespace, t.URITemplate)
		out = append(out, t)
	}
	return out, nil
}

// checkNamespace reverse-extracts a namespace from a namespaced name and
// verifies it matches this connector's namespace. A mismatch is a client
// error, not a filter rejection (spec §4.5).
func (f *Filtered) checkNamespace(ns string) error {
	if ns != f.namespace {
		return apierr.UnknownCapability(fmt.Sprintf("capability namespace %q does not match attached upstream %q", ns, f.namespace))
	}
	return nil
}

func (f *Filtered) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallToolResult, error) {
	ns, original, err := f.resolver.ExtractFromName(name)
	if err != nil {
		return nil, apierr.UnknownCapability(fmt.Sprintf("cannot resolve namespace for tool %q: %v", name, err))
	}
	if err := f.checkNamespace(ns); err != nil {
		return nil, err
	}
	if !permission.IsToolAllowed(&f.perms, original) {
		return nil, apierr.PermissionDenied(fmt.Sprintf("tool %q is not permitted", original))
	}
	return f.delegate.CallTool(ctx, original, arguments)
}

func (f *Filtered) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	ns, bare := namespace.ExtractFromURI(uri)
	if err := f.checkNamespace(ns); err != nil {
		return nil, err
	}
	if !permission.IsResourceAllowed(&f.perms, bare) {
		return nil, apierr.PermissionDenied(fmt.Sprintf("resource %q is not permitted", bare))
	}
	return f.delegate.ReadResource(ctx, bare)
}

func (f *Filtered) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error) {
	ns, original, err := f.resolver.ExtractFromName(name)
	if err != nil {
		return nil, apierr.UnknownCapability(fmt.Sprintf("cannot resolve namespace for prompt %q: %v", name, err))
	}
	if err := f.checkNamespace(ns); err != nil {
		return nil, err
	}
	if !permission.IsPromptAllowed(&f.perms, original) {
		return nil, apierr.PermissionDenied(fmt.Sprintf("prompt %q is not permitted", original))
	}
	return f.delegate.GetPrompt(ctx, original, arguments)
}

// Package dispatch maps named tool invocations onto typed handlers: a flat
// namespace where each tool validates its arguments against a declared JSON
// Schema before running, following the teacher's internal/tool one-file-
// per-tool registry shape.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/opencode-ai/opencode/internal/apperr"
)

// Tool is one named entry in the dispatcher's flat namespace.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Handle(ctx context.Context, streamID string, args json.RawMessage) (any, error)
}

// ContentItem is one element of a tool result's content array, per spec
// §4.H: "every handler returns either structured text or a JSON string; the
// transport wraps results in a content array of {type,text} items."
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentResult is the shape every Tool.Handle ultimately returns to the
// transport.
type ContentResult struct {
	Content []ContentItem `json:"content"`
}

// textResult wraps a plain string as a single-item content result.
func textResult(text string) ContentResult {
	return ContentResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

// jsonResult marshals v and wraps it as a single-item text content result —
// the "JSON string" half of the §4.H handler contract.
func jsonResult(v any) (ContentResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ContentResult{}, apperr.Wrap(apperr.Internal, "failed to marshal tool result", err)
	}
	return textResult(string(raw)), nil
}

// Registry holds every registered Tool plus its compiled JSON Schema, and
// implements internal/rpc.Router so it can be wired directly into the
// transport server.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	log     zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		log:     log,
	}
}

// Register compiles t's schema and adds it under t.Name(). Panics on a
// malformed schema literal — those are a build-time programming error, not
// a runtime condition a caller can recover from.
func (r *Registry) Register(t Tool) {
	var schemaDoc any
	if err := json.Unmarshal(t.Schema(), &schemaDoc); err != nil {
		panic(fmt.Sprintf("dispatch: tool %q has a malformed schema literal: %v", t.Name(), err))
	}

	compiler := jsonschema.NewCompiler()
	resourceName := t.Name() + ".json"
	if err := compiler.AddResource(resourceName, schemaDoc); err != nil {
		panic(fmt.Sprintf("dispatch: tool %q has an invalid schema: %v", t.Name(), err))
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		panic(fmt.Sprintf("dispatch: tool %q schema failed to compile: %v", t.Name(), err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	r.log.Debug().Str("tool", t.Name()).Msg("dispatch: registered tool")
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Handle implements internal/rpc.Router: it looks up method as a tool name,
// validates params against the tool's declared schema, then dispatches.
// internal/rpc.Stream handles "initialize" itself before a request ever
// reaches a Router, so it is never a method name seen here.
func (r *Registry) Handle(ctx context.Context, streamID, method string, params json.RawMessage) (any, error) {
	r.mu.RLock()
	tool, ok := r.tools[method]
	schema := r.schemas[method]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no such tool: %s", method)
	}

	if err := validateArgs(schema, params); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "arguments failed schema validation", err)
	}

	return tool.Handle(ctx, streamID, params)
}

func validateArgs(schema *jsonschema.Schema, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("params is not valid JSON: %w", err)
	}
	return schema.Validate(v)
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultTimeout bounds tool invocations that do not declare their own.
const DefaultTimeout = 30 * time.Second

// Registry is the static catalog mapping tool names to their input
// contract, handler, dispatch policy and timeout.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration
}

type registration struct {
	tool    Tool
	opts    Options
	schema  *jsonschema.Schema
	rawJSON json.RawMessage
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registration)}
}

// Register adds a tool with its dispatch options. The tool's input schema
// is generated from its input struct and compiled here, so a malformed
// schema fails fast at wiring time instead of on first dispatch.
func (r *Registry) Register(tool Tool, opts Options) error {
	if tool == nil {
		return errors.New("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	reflector := invopop.Reflector{DoNotReference: true}
	raw, err := json.Marshal(reflector.Reflect(tool.Input()))
	if err != nil {
		return fmt.Errorf("generate schema for tool %q: %w", name, err)
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &registration{tool: tool, opts: opts, schema: compiled, rawJSON: raw}
	return nil
}

// Options returns a tool's dispatch options.
func (r *Registry) Options(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Options{}, false
	}
	return reg.opts, true
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Describe returns planner-facing descriptors for the named tools.
// Unknown names are skipped.
func (r *Registry) Describe(names []string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		reg, ok := r.tools[name]
		if !ok {
			continue
		}
		out = append(out, Descriptor{
			Name:        name,
			Description: reg.tool.Description(),
			Schema:      reg.rawJSON,
		})
	}
	return out
}

// Invoke dispatches a tool call: it validates args against the tool's
// schema, applies the tool's deadline, and executes the handler exactly
// once. Schema mismatches return *InvalidArgsError and deadline overruns
// return *TimeoutError; domain failures come back as Result.IsError.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, &InvalidArgsError{Tool: name, Issues: []string{"arguments are not valid JSON: " + err.Error()}}
	}
	if err := reg.schema.Validate(decoded); err != nil {
		return nil, &InvalidArgsError{Tool: name, Issues: validationIssues(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, reg.opts.Timeout)
	defer cancel()

	result, err := reg.tool.Execute(ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Tool: name, Deadline: reg.opts.Timeout}
		}
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	if result == nil {
		result = &Result{}
	}
	return result, nil
}

// validationIssues flattens a jsonschema validation error into leaf messages.
func validationIssues(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var issues []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			issues = append(issues, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

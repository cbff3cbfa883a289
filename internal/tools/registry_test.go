package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/tenant"
)

type fakeInput struct {
	Text  string `json:"text" jsonschema:"required"`
	Count int    `json:"count,omitempty" jsonschema:"minimum=1"`
}

// fakeTool echoes its input and exposes knobs for failure modes.
type fakeTool struct {
	name     string
	sleep    time.Duration
	execErr  error
	isError  bool
	invoked  int
	lastArgs json.RawMessage
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake tool for dispatch tests" }
func (t *fakeTool) Input() any          { return fakeInput{} }

func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	t.invoked++
	t.lastArgs = args
	if t.sleep > 0 {
		select {
		case <-time.After(t.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.execErr != nil {
		return nil, t.execErr
	}
	var in fakeInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return &Result{Content: "echo: " + in.Text, IsError: t.isError}, nil
}

func TestRegisterRejectsInvalidTools(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil, Options{}); err == nil {
		t.Fatal("Register(nil) succeeded")
	}
	if err := r.Register(&fakeTool{name: ""}, Options{}); err == nil {
		t.Fatal("Register with empty name succeeded")
	}
}

func TestInvokeValidArgs(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{name: "echo"}
	if err := r.Register(tool, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"hi","count":3}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Content != "echo: hi" {
		t.Fatalf("Content = %q", result.Content)
	}
	if tool.invoked != 1 {
		t.Fatalf("invoked = %d, want 1", tool.invoked)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "nope", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInvokeSchemaValidation(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{name: "echo"}
	if err := r.Register(tool, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name string
		args string
	}{
		{"missing required field", `{"count":2}`},
		{"wrong type", `{"text":42}`},
		{"constraint violation", `{"text":"hi","count":0}`},
		{"not json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Invoke(context.Background(), "echo", json.RawMessage(tt.args))
			if !IsInvalidArgs(err) {
				t.Fatalf("err = %v, want InvalidArgsError", err)
			}
		})
	}
	if tool.invoked != 0 {
		t.Fatalf("handler invoked %d times on invalid args, want 0", tool.invoked)
	}
}

func TestInvalidArgsErrorNamesIssues(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "echo"}, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{}`))
	var iae *InvalidArgsError
	if !errors.As(err, &iae) {
		t.Fatalf("err = %v, want InvalidArgsError", err)
	}
	if iae.Tool != "echo" || len(iae.Issues) == 0 {
		t.Fatalf("InvalidArgsError = %+v, want tool name and at least one issue", iae)
	}
	if !strings.Contains(err.Error(), "echo") {
		t.Fatalf("Error() = %q, does not name the tool", err.Error())
	}
}

func TestInvokeTimeout(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{name: "slow", sleep: time.Second}
	if err := r.Register(tool, Options{Timeout: 20 * time.Millisecond}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	_, err := r.Invoke(context.Background(), "slow", json.RawMessage(`{"text":"x"}`))
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("invoke blocked %s past its 20ms deadline", elapsed)
	}

	var te *TimeoutError
	errors.As(err, &te)
	if te.Tool != "slow" || te.Deadline != 20*time.Millisecond {
		t.Fatalf("TimeoutError = %+v", te)
	}
}

func TestInvokeEmptyArgsAgainstOptionalSchema(t *testing.T) {
	r := NewRegistry()
	svc := NewLocalFinanceService()
	if err := r.Register(&GetBalanceTool{Service: svc}, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := tenant.WithTenant(context.Background(), &tenant.Tenant{ID: uuid.New()})
	result, err := r.Invoke(ctx, "get_balance", nil)
	if err != nil {
		t.Fatalf("Invoke with nil args: %v", err)
	}
	if !strings.Contains(result.Content, "0.00 KZT") {
		t.Fatalf("Content = %q", result.Content)
	}
}

func TestInvokeDomainErrorIsNotInfrastructureError(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{name: "echo", isError: true}
	if err := r.Register(tool, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"x"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !result.IsError {
		t.Fatal("IsError = false, want true")
	}
}

func TestInvokeWrapsHandlerError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	if err := r.Register(&fakeTool{name: "echo", execErr: boom}, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":"x"}`))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if IsTimeout(err) || IsInvalidArgs(err) {
		t.Fatalf("handler error misclassified: %v", err)
	}
}

func TestOptionsDefaultsAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "plain"}, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&fakeTool{name: "strict"}, Options{Timeout: 5 * time.Second, Critical: true, Committing: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	opts, ok := r.Options("plain")
	if !ok || opts.Timeout != DefaultTimeout || opts.Critical || opts.Committing {
		t.Fatalf("Options(plain) = %+v, %v", opts, ok)
	}
	opts, ok = r.Options("strict")
	if !ok || opts.Timeout != 5*time.Second || !opts.Critical || !opts.Committing {
		t.Fatalf("Options(strict) = %+v, %v", opts, ok)
	}
	if _, ok := r.Options("missing"); ok {
		t.Fatal("Options(missing) reported ok")
	}
}

func TestDescribeSkipsUnknownNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "echo"}, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	descs := r.Describe([]string{"echo", "missing"})
	if len(descs) != 1 {
		t.Fatalf("Describe returned %d descriptors, want 1", len(descs))
	}
	d := descs[0]
	if d.Name != "echo" || d.Description == "" {
		t.Fatalf("descriptor = %+v", d)
	}
	if !json.Valid(d.Schema) || !strings.Contains(string(d.Schema), `"text"`) {
		t.Fatalf("schema = %s, want valid JSON mentioning the text property", d.Schema)
	}
}

func TestRecordTransactionEnumValidation(t *testing.T) {
	r := NewRegistry()
	svc := NewLocalFinanceService()
	if err := r.Register(&RecordTransactionTool{Service: svc}, Options{Committing: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx := tenant.WithTenant(context.Background(), &tenant.Tenant{ID: uuid.New()})

	_, err := r.Invoke(ctx, "record_transaction", json.RawMessage(`{"amount":500,"direction":"sideways"}`))
	if !IsInvalidArgs(err) {
		t.Fatalf("err = %v, want InvalidArgsError for bad enum", err)
	}

	result, err := r.Invoke(ctx, "record_transaction", json.RawMessage(`{"amount":500,"direction":"expense"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.IsError {
		t.Fatalf("Content = %q, IsError = true", result.Content)
	}
}

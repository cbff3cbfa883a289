package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kenes-ai/kenes/internal/knowledge"
	"github.com/kenes-ai/kenes/internal/tenant"
)

// DeepSearchTool queries the tenant's knowledge index. The retriever
// enforces tenant isolation server-side; this tool only supplies the
// active tenant from context.
type DeepSearchTool struct {
	Retriever knowledge.Retriever

	// TopK bounds the number of returned chunks (default 5).
	TopK int
}

type deepSearchInput struct {
	Query string `json:"query" jsonschema:"minLength=1,description=What to search for"`
}

func (t *DeepSearchTool) Name() string        { return "deep_search" }
func (t *DeepSearchTool) Description() string { return "Search the knowledge base." }
func (t *DeepSearchTool) Input() any          { return deepSearchInput{} }

func (t *DeepSearchTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in deepSearchInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	topK := t.TopK
	if topK <= 0 {
		topK = 5
	}
	chunks, err := t.Retriever.Search(ctx, tenant.IDFromContext(ctx), in.Query, topK)
	if err != nil {
		return &Result{Content: "search failed: " + err.Error(), IsError: true}, nil
	}
	if len(chunks) == 0 {
		return &Result{Content: fmt.Sprintf("nothing found for %q", in.Query), IsError: true}, nil
	}
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString("- ")
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	return &Result{Content: sb.String()}, nil
}

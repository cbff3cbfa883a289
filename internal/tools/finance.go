package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/tenant"
)

// FinanceService is the domain boundary for money operations. How a
// transaction is actually posted is out of the runtime's scope; the
// service owns its own transactional discipline.
type FinanceService interface {
	Balance(ctx context.Context, tenantID uuid.UUID) (amount float64, currency string, err error)
	RecordTransaction(ctx context.Context, tenantID uuid.UUID, tx Transaction) (id string, err error)
}

// Transaction is a single income or expense entry.
type Transaction struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency,omitempty"`
	Direction string  `json:"direction"` // income | expense
	Category  string  `json:"category,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// GetBalanceTool reports the tenant's current balance.
type GetBalanceTool struct {
	Service FinanceService
}

type getBalanceInput struct{}

func (t *GetBalanceTool) Name() string        { return "get_balance" }
func (t *GetBalanceTool) Description() string { return "Get the current account balance." }
func (t *GetBalanceTool) Input() any          { return getBalanceInput{} }

func (t *GetBalanceTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	amount, currency, err := t.Service.Balance(ctx, tenant.IDFromContext(ctx))
	if err != nil {
		return &Result{Content: "balance lookup failed: " + err.Error(), IsError: true}, nil
	}
	return &Result{Content: fmt.Sprintf("Current balance: %.2f %s", amount, currency)}, nil
}

// RecordTransactionTool posts an income or expense entry. It is a
// committing tool: the calling agent must have confirmed the amount with
// the user before invoking it.
type RecordTransactionTool struct {
	Service FinanceService
}

type recordTransactionInput struct {
	Amount    float64 `json:"amount" jsonschema:"minimum=0,description=Transaction amount"`
	Direction string  `json:"direction" jsonschema:"enum=income,enum=expense"`
	Currency  string  `json:"currency,omitempty"`
	Category  string  `json:"category,omitempty"`
	Note      string  `json:"note,omitempty"`
}

func (t *RecordTransactionTool) Name() string { return "record_transaction" }
func (t *RecordTransactionTool) Description() string {
	return "Record an income or expense transaction."
}
func (t *RecordTransactionTool) Input() any { return recordTransactionInput{} }

func (t *RecordTransactionTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in recordTransactionInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	id, err := t.Service.RecordTransaction(ctx, tenant.IDFromContext(ctx), Transaction{
		Amount:    in.Amount,
		Currency:  in.Currency,
		Direction: in.Direction,
		Category:  in.Category,
		Note:      in.Note,
	})
	if err != nil {
		return &Result{Content: "transaction not recorded: " + err.Error(), IsError: true}, nil
	}
	return &Result{Content: fmt.Sprintf("Recorded %s of %.2f (id %s)", in.Direction, in.Amount, id)}, nil
}

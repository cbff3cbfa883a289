package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kenes-ai/kenes/internal/tenant"
)

// TaskService is the domain boundary for to-do items.
type TaskService interface {
	CreateTask(ctx context.Context, tenantID uuid.UUID, task Task) (id string, err error)
	ListTasks(ctx context.Context, tenantID uuid.UUID, includeDone bool) ([]Task, error)
}

// Task is a to-do item.
type Task struct {
	ID    string     `json:"id,omitempty"`
	Title string     `json:"title"`
	DueAt *time.Time `json:"due_at,omitempty"`
	Done  bool       `json:"done,omitempty"`
}

// CreateTaskTool records a new task.
type CreateTaskTool struct {
	Service TaskService
}

type createTaskInput struct {
	Title string `json:"title" jsonschema:"description=Short task title"`
	DueAt string `json:"due_at,omitempty" jsonschema:"description=Optional due time in RFC 3339 format"`
}

func (t *CreateTaskTool) Name() string        { return "create_task" }
func (t *CreateTaskTool) Description() string { return "Create a task or to-do item." }
func (t *CreateTaskTool) Input() any          { return createTaskInput{} }

func (t *CreateTaskTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in createTaskInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	task := Task{Title: in.Title}
	if in.DueAt != "" {
		due, err := time.Parse(time.RFC3339, in.DueAt)
		if err != nil {
			return &Result{Content: "due_at must be RFC 3339: " + err.Error(), IsError: true}, nil
		}
		task.DueAt = &due
	}
	id, err := t.Service.CreateTask(ctx, tenant.IDFromContext(ctx), task)
	if err != nil {
		return &Result{Content: "task not created: " + err.Error(), IsError: true}, nil
	}
	return &Result{Content: fmt.Sprintf("Created task %q (id %s)", in.Title, id)}, nil
}

// ListTasksTool lists open tasks.
type ListTasksTool struct {
	Service TaskService
}

type listTasksInput struct {
	IncludeDone bool `json:"include_done,omitempty"`
}

func (t *ListTasksTool) Name() string        { return "list_tasks" }
func (t *ListTasksTool) Description() string { return "List open tasks." }
func (t *ListTasksTool) Input() any          { return listTasksInput{} }

func (t *ListTasksTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in listTasksInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	tasks, err := t.Service.ListTasks(ctx, tenant.IDFromContext(ctx), in.IncludeDone)
	if err != nil {
		return &Result{Content: "could not list tasks: " + err.Error(), IsError: true}, nil
	}
	if len(tasks) == 0 {
		return &Result{Content: "No open tasks."}, nil
	}
	var sb strings.Builder
	for _, task := range tasks {
		if task.DueAt != nil {
			fmt.Fprintf(&sb, "- %s (due %s)\n", task.Title, task.DueAt.Format("2006-01-02 15:04"))
			continue
		}
		fmt.Fprintf(&sb, "- %s\n", task.Title)
	}
	return &Result{Content: sb.String()}, nil
}

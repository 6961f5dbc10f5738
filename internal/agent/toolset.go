package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/tasks"
)

// Tool names in the fixed catalog.
const (
	ToolCreateTask   = "create_task"
	ToolListTasks    = "list_tasks"
	ToolUpdateTask   = "update_task"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
)

// Toolset is the fixed registry of task-mutation operations. Every
// invocation is bound to the authenticated owner passed by the runner;
// the reasoning backend can never name a different user.
type Toolset struct {
	svc *tasks.Service
}

// NewToolset creates a Toolset.
func NewToolset(svc *tasks.Service) (*Toolset, error) {
	if svc == nil {
		return nil, fmt.Errorf("agent: toolset: task service is required")
	}
	return &Toolset{svc: svc}, nil
}

// Outcome is the result of dispatching one tool call. When Candidates is
// non-empty the target reference was ambiguous: nothing was mutated and
// the runner must ask the user to disambiguate instead of proceeding.
type Outcome struct {
	Record     ToolCallRecord
	Content    string // JSON fed back to the backend as the tool result
	Candidates []models.Task
	Query      string // the ambiguous title_match phrase, when set
}

// Catalog returns the tool definitions advertised to the backend.
func (ts *Toolset) Catalog() []llm.Tool {
	target := map[string]interface{}{
		"task_id": map[string]interface{}{
			"type":        "integer",
			"description": "Numeric id of the task.",
		},
		"title_match": map[string]interface{}{
			"type":        "string",
			"description": "Phrase from the task title, used when the user refers to a task by name. Provide either task_id or title_match.",
		},
	}

	return []llm.Tool{
		{
			Name:        ToolCreateTask,
			Description: "Create a new task for the user.",
			Parameters: objectSchema(map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Short task title.",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Optional longer details.",
				},
			}, "title"),
		},
		{
			Name:        ToolListTasks,
			Description: "List the user's tasks, newest first.",
			Parameters: objectSchema(map[string]interface{}{
				"completed": map[string]interface{}{
					"type":        "boolean",
					"description": "Filter: true for completed, false for pending. Omit for all tasks.",
				},
			}),
		},
		{
			Name:        ToolUpdateTask,
			Description: "Update a task's title, description, or completion status.",
			Parameters: objectSchema(merge(target, map[string]interface{}{
				"title":       map[string]interface{}{"type": "string"},
				"description": map[string]interface{}{"type": "string"},
				"completed":   map[string]interface{}{"type": "boolean"},
			})),
		},
		{
			Name:        ToolCompleteTask,
			Description: "Mark one task as done.",
			Parameters:  objectSchema(target),
		},
		{
			Name:        ToolDeleteTask,
			Description: "Permanently delete one task.",
			Parameters:  objectSchema(target),
		},
	}
}

// Invoke dispatches a backend tool call for owner. Unknown names and
// malformed parameters fail closed as per-call errors; the loop
// continues and the backend sees the failure in the tool result.
func (ts *Toolset) Invoke(owner string, call llm.ToolCall) Outcome {
	start := time.Now()

	var out Outcome
	switch call.Name {
	case ToolCreateTask:
		out = ts.createTask(owner, call.Arguments)
	case ToolListTasks:
		out = ts.listTasks(owner, call.Arguments)
	case ToolUpdateTask:
		out = ts.updateTask(owner, call.Arguments)
	case ToolCompleteTask:
		out = ts.completeTask(owner, call.Arguments)
	case ToolDeleteTask:
		out = ts.deleteTask(owner, call.Arguments)
	default:
		out = failure(fmt.Sprintf("unknown tool %q", call.Name))
	}

	out.Record.Tool = call.Name
	out.Record.Parameters = normalizeArgs(call.Arguments)
	out.Record.DurationMS = time.Since(start).Milliseconds()
	if out.Content == "" {
		out.Content = resultContent(out.Record.Result)
	}
	return out
}

type createTaskArgs struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (ts *Toolset) createTask(owner string, args json.RawMessage) Outcome {
	var a createTaskArgs
	if err := decodeArgs(args, &a); err != nil {
		return failure(err.Error())
	}

	task, err := ts.svc.Create(owner, a.Title, a.Description)
	if err != nil {
		return failure(err.Error())
	}
	return success(map[string]interface{}{"task": taskJSON(task)})
}

type listTasksArgs struct {
	Completed *bool `json:"completed"`
}

func (ts *Toolset) listTasks(owner string, args json.RawMessage) Outcome {
	var a listTasksArgs
	if err := decodeArgs(args, &a); err != nil {
		return failure(err.Error())
	}

	list, err := ts.svc.List(owner, tasks.ListFilter{Completed: a.Completed})
	if err != nil {
		return failure(err.Error())
	}

	items := make([]map[string]interface{}, 0, len(list))
	for i := range list {
		items = append(items, taskJSON(&list[i]))
	}
	return success(map[string]interface{}{"tasks": items, "total": len(list)})
}

type targetArgs struct {
	TaskID     uint   `json:"task_id"`
	TitleMatch string `json:"title_match"`
}

type updateTaskArgs struct {
	targetArgs
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

func (ts *Toolset) updateTask(owner string, args json.RawMessage) Outcome {
	var a updateTaskArgs
	if err := decodeArgs(args, &a); err != nil {
		return failure(err.Error())
	}
	if a.Title == nil && a.Description == nil && a.Completed == nil {
		return failure("update_task requires at least one of title, description, completed")
	}

	task, out, ok := ts.resolve(owner, a.targetArgs)
	if !ok {
		return out
	}

	updated, err := ts.svc.Update(task.ID, owner, tasks.Update{
		Title:       a.Title,
		Description: a.Description,
		Completed:   a.Completed,
	})
	if err != nil {
		return failure(err.Error())
	}
	return success(map[string]interface{}{"task": taskJSON(updated)})
}

func (ts *Toolset) completeTask(owner string, args json.RawMessage) Outcome {
	var a targetArgs
	if err := decodeArgs(args, &a); err != nil {
		return failure(err.Error())
	}

	task, out, ok := ts.resolve(owner, a)
	if !ok {
		return out
	}

	done, err := ts.svc.Complete(task.ID, owner)
	if err != nil {
		return failure(err.Error())
	}
	return success(map[string]interface{}{"task": taskJSON(done)})
}

func (ts *Toolset) deleteTask(owner string, args json.RawMessage) Outcome {
	var a targetArgs
	if err := decodeArgs(args, &a); err != nil {
		return failure(err.Error())
	}

	task, out, ok := ts.resolve(owner, a)
	if !ok {
		return out
	}

	if err := ts.svc.Delete(task.ID, owner); err != nil {
		return failure(err.Error())
	}
	return success(map[string]interface{}{
		"deleted": map[string]interface{}{"id": task.ID, "title": task.Title},
	})
}

// resolve locates the single task a call targets. A title_match hitting
// more than one task returns the candidates without mutating anything —
// the runner turns that into a clarifying answer rather than guessing.
func (ts *Toolset) resolve(owner string, a targetArgs) (*models.Task, Outcome, bool) {
	if a.TaskID > 0 {
		task, err := ts.svc.Get(a.TaskID, owner)
		if errors.Is(err, tasks.ErrNotFound) {
			return nil, failure(fmt.Sprintf("no task with id %d", a.TaskID)), false
		}
		if err != nil {
			return nil, failure(err.Error()), false
		}
		return task, Outcome{}, true
	}

	if a.TitleMatch == "" {
		return nil, failure("provide task_id or title_match"), false
	}

	matches, err := ts.svc.FindByTitle(owner, a.TitleMatch)
	if err != nil {
		return nil, failure(err.Error()), false
	}
	switch len(matches) {
	case 0:
		return nil, failure(fmt.Sprintf("no task matching %q", a.TitleMatch)), false
	case 1:
		return &matches[0], Outcome{}, true
	default:
		return nil, Outcome{Candidates: matches, Query: a.TitleMatch}, false
	}
}

// decodeArgs strictly decodes tool parameters; unknown fields and type
// mismatches fail closed. Empty arguments decode as an empty object.
func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid parameters: %v", err)
	}
	return nil
}

// normalizeArgs keeps the audit record valid JSON even when a provider
// sends empty argument strings.
func normalizeArgs(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return json.RawMessage("{}")
	}
	return raw
}

func taskJSON(t *models.Task) map[string]interface{} {
	return map[string]interface{}{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"completed":   t.Completed,
	}
}

func success(payload interface{}) Outcome {
	return Outcome{Record: ToolCallRecord{Result: ToolResult{OK: true, Payload: payload}}}
}

func failure(msg string) Outcome {
	return Outcome{Record: ToolCallRecord{Result: ToolResult{OK: false, Error: msg}}}
}

// resultContent renders a tool result as the JSON the backend reads.
func resultContent(r ToolResult) string {
	var v interface{}
	if r.OK {
		v = r.Payload
	} else {
		v = map[string]string{"error": r.Error}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"unencodable tool result"}`
	}
	return string(data)
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func merge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/confirm"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/tasks"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	responses []llm.Response
	err       error
	calls     int
	requests  []llm.Request
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	c.calls++
	c.requests = append(c.requests, req)
	if c.err != nil {
		return llm.Response{}, c.err
	}
	if len(c.responses) == 0 {
		return llm.Response{Content: "out of script"}, nil
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

func newTestTasks(t *testing.T) *tasks.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Task{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	svc, err := tasks.New(db)
	if err != nil {
		t.Fatalf("tasks.New: %v", err)
	}
	return svc
}

func newTestRunner(t *testing.T, client llm.Client, svc *tasks.Service, confirms *confirm.Store) *Runner {
	t.Helper()
	ts, err := NewToolset(svc)
	if err != nil {
		t.Fatalf("NewToolset: %v", err)
	}
	r, err := NewRunner(Opts{
		LLM:      client,
		Tools:    ts,
		Tasks:    svc,
		Confirms: confirms,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func toolCall(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call-1", Name: name, Arguments: json.RawMessage(args)}
}

func TestRun_CreateTask(t *testing.T) {
	svc := newTestTasks(t)
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(ToolCreateTask, `{"title":"Buy groceries","description":"milk"}`)}},
		{Content: "Added \"Buy groceries\" to your list!"},
	}}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "add buy groceries"})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Response != "Added \"Buy groceries\" to your list!" {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Tool != ToolCreateTask {
		t.Fatalf("ToolCalls = %+v, want one create_task", res.ToolCalls)
	}
	if !res.ToolCalls[0].Result.OK {
		t.Errorf("tool call failed: %s", res.ToolCalls[0].Result.Error)
	}

	list, err := svc.List("alice", tasks.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Buy groceries" {
		t.Errorf("stored tasks = %+v, want one Buy groceries", list)
	}

	// First step is always the analyzing step.
	if len(res.Thinking) == 0 || res.Thinking[0].Type != StepAnalyzing {
		t.Errorf("Thinking = %+v, want leading analyzing step", res.Thinking)
	}
}

func TestRun_ToolResultFedBack(t *testing.T) {
	svc := newTestTasks(t)
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(ToolListTasks, `{}`)}},
		{Content: "You have no tasks."},
	}}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "what's on my list?"})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}

	// Second backend call must see the tool result message.
	if client.calls != 2 {
		t.Fatalf("backend calls = %d, want 2", client.calls)
	}
	second := client.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call-1" {
		t.Errorf("last message = %+v, want tool result for call-1", last)
	}
	if !strings.Contains(last.Content, `"total":0`) {
		t.Errorf("tool result content = %q, want total 0", last.Content)
	}
}

func TestRun_BulkDeleteRequiresConfirmation(t *testing.T) {
	svc := newTestTasks(t)
	for _, title := range []string{"one", "two", "three", "four", "five"} {
		if _, err := svc.Create("alice", title, ""); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	client := &scriptedClient{}
	confirms := confirm.NewStore(0)
	r := newTestRunner(t, client, svc, confirms)

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "please delete all my tasks"})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Confirmation == nil {
		t.Fatal("bulk delete should request confirmation")
	}
	if res.Confirmation.Action != ActionDeleteAll {
		t.Errorf("Action = %q, want %q", res.Confirmation.Action, ActionDeleteAll)
	}
	if res.Confirmation.TotalItems != 5 {
		t.Errorf("TotalItems = %d, want 5", res.Confirmation.TotalItems)
	}
	if len(res.Confirmation.AffectedItems) != 5 {
		t.Errorf("AffectedItems = %d, want 5", len(res.Confirmation.AffectedItems))
	}
	if res.Confirmation.ConfirmToken == "" {
		t.Error("confirmation carries no token")
	}

	// The gate never consults the backend and never mutates.
	if client.calls != 0 {
		t.Errorf("backend called %d times during gating, want 0", client.calls)
	}
	list, _ := svc.List("alice", tasks.ListFilter{})
	if len(list) != 5 {
		t.Errorf("tasks after gating = %d, want 5 untouched", len(list))
	}
}

func TestRun_BulkDeleteEmptyList(t *testing.T) {
	svc := newTestTasks(t)
	client := &scriptedClient{}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "delete all tasks"})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Confirmation != nil {
		t.Error("empty list should not require confirmation")
	}
	if !strings.Contains(res.Response, "empty") {
		t.Errorf("Response = %q, want empty-list notice", res.Response)
	}
}

func TestRun_ConfirmedDeleteAll(t *testing.T) {
	svc := newTestTasks(t)
	for _, title := range []string{"one", "two", "three"} {
		if _, err := svc.Create("alice", title, ""); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	confirms := confirm.NewStore(0)
	r := newTestRunner(t, &scriptedClient{}, svc, confirms)

	gated := r.Run(context.Background(), Request{Owner: "alice", Message: "delete all my tasks"})
	if gated.Confirmation == nil {
		t.Fatal("expected confirmation request")
	}

	res := r.Run(context.Background(), Request{
		Owner:        "alice",
		Message:      "yes",
		ConfirmToken: gated.Confirmation.ConfirmToken,
	})
	if res.Err != nil {
		t.Fatalf("confirmed run: %v", res.Err)
	}
	if !strings.Contains(res.Response, "3") {
		t.Errorf("Response = %q, want count of 3", res.Response)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Tool != ActionDeleteAll {
		t.Fatalf("ToolCalls = %+v, want one delete_all record", res.ToolCalls)
	}

	list, _ := svc.List("alice", tasks.ListFilter{})
	if len(list) != 0 {
		t.Errorf("tasks after confirmed delete = %d, want 0", len(list))
	}
}

func TestRun_ConfirmTokenSingleUse(t *testing.T) {
	svc := newTestTasks(t)
	if _, err := svc.Create("alice", "one", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	confirms := confirm.NewStore(0)
	r := newTestRunner(t, &scriptedClient{}, svc, confirms)

	gated := r.Run(context.Background(), Request{Owner: "alice", Message: "delete all my tasks"})
	token := gated.Confirmation.ConfirmToken

	first := r.Run(context.Background(), Request{Owner: "alice", Message: "yes", ConfirmToken: token})
	if first.Err != nil {
		t.Fatalf("first confirmed run: %v", first.Err)
	}

	second := r.Run(context.Background(), Request{Owner: "alice", Message: "yes", ConfirmToken: token})
	if second.Err != nil {
		t.Fatalf("replay should recover locally, got %v", second.Err)
	}
	if !strings.Contains(second.Response, "expired or was already used") {
		t.Errorf("replay Response = %q, want invalid-token notice", second.Response)
	}
	if len(second.ToolCalls) != 0 {
		t.Error("replayed token must not execute anything")
	}
}

func TestRun_ConfirmTokenWrongOwner(t *testing.T) {
	svc := newTestTasks(t)
	if _, err := svc.Create("alice", "one", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	confirms := confirm.NewStore(0)
	r := newTestRunner(t, &scriptedClient{}, svc, confirms)

	gated := r.Run(context.Background(), Request{Owner: "alice", Message: "delete all my tasks"})

	res := r.Run(context.Background(), Request{
		Owner:        "mallory",
		Message:      "yes",
		ConfirmToken: gated.Confirmation.ConfirmToken,
	})
	if res.Err != nil {
		t.Fatalf("foreign token should recover locally, got %v", res.Err)
	}
	if len(res.ToolCalls) != 0 {
		t.Error("foreign token must not execute anything")
	}
	list, _ := svc.List("alice", tasks.ListFilter{})
	if len(list) != 1 {
		t.Errorf("alice's tasks = %d, want 1 untouched", len(list))
	}
}

func TestRun_AmbiguousTitleMatch(t *testing.T) {
	svc := newTestTasks(t)
	if _, err := svc.Create("alice", "Team meeting prep", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Create("alice", "Meeting notes", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(ToolDeleteTask, `{"title_match":"meeting"}`)}},
	}}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "delete my meeting task"})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if !strings.Contains(res.Response, "which one") {
		t.Errorf("Response = %q, want clarifying question", res.Response)
	}
	if !strings.Contains(res.Response, "Team meeting prep") || !strings.Contains(res.Response, "Meeting notes") {
		t.Errorf("Response = %q, want both candidates listed", res.Response)
	}

	// Ambiguity never mutates.
	list, _ := svc.List("alice", tasks.ListFilter{})
	if len(list) != 2 {
		t.Errorf("tasks after ambiguous delete = %d, want 2", len(list))
	}
	last := res.Thinking[len(res.Thinking)-1]
	if last.Type != StepClarifying {
		t.Errorf("final thinking step = %q, want %q", last.Type, StepClarifying)
	}
}

func TestRun_StepBudget(t *testing.T) {
	svc := newTestTasks(t)
	// A client that always requests another tool call never terminates on
	// its own; the budget must stop it.
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(ToolListTasks, `{}`)}},
	}}
	ts, _ := NewToolset(svc)
	r, err := NewRunner(Opts{
		LLM:      client,
		Tools:    ts,
		Tasks:    svc,
		Confirms: confirm.NewStore(0),
		MaxSteps: 3,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "list forever"})
	if !errors.Is(res.Err, ErrStepBudgetExceeded) {
		t.Fatalf("Err = %v, want ErrStepBudgetExceeded", res.Err)
	}
	if res.Response == "" {
		t.Error("budget failure still needs user-facing text")
	}
	if client.calls != 3 {
		t.Errorf("backend calls = %d, want 3", client.calls)
	}
}

func TestRun_BackendFailure(t *testing.T) {
	svc := newTestTasks(t)
	client := &scriptedClient{err: errors.New("connection refused")}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "hello"})
	if !errors.Is(res.Err, ErrBackend) {
		t.Fatalf("Err = %v, want ErrBackend", res.Err)
	}
	if res.Response == "" {
		t.Error("backend failure still needs user-facing text")
	}
}

func TestRun_UnknownToolRecovers(t *testing.T) {
	svc := newTestTasks(t)
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("launch_rocket", `{}`)}},
		{Content: "Sorry, I can't do that."},
	}}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	res := r.Run(context.Background(), Request{Owner: "alice", Message: "launch the rocket"})
	if res.Err != nil {
		t.Fatalf("unknown tool should not be terminal: %v", res.Err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Result.OK {
		t.Fatalf("ToolCalls = %+v, want one failed record", res.ToolCalls)
	}
	if res.Response != "Sorry, I can't do that." {
		t.Errorf("Response = %q", res.Response)
	}
}

func TestRun_EventsStreamAndClose(t *testing.T) {
	svc := newTestTasks(t)
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall(ToolCreateTask, `{"title":"Walk the dog"}`)}},
		{Content: "Done!"},
	}}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	events := make(chan Event, 32)
	done := make(chan *Result, 1)
	go func() {
		done <- r.Run(context.Background(), Request{Owner: "alice", Message: "add walk the dog", Events: events})
	}()

	var thinking, toolCalls int
	for ev := range events {
		switch ev.Type {
		case EventThinking:
			thinking++
		case EventToolCall:
			toolCalls++
		}
	}

	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("Run: %v", res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	if thinking == 0 {
		t.Error("no thinking events streamed")
	}
	if toolCalls != 1 {
		t.Errorf("tool call events = %d, want 1", toolCalls)
	}
}

func TestRun_WindowPassedToBackend(t *testing.T) {
	svc := newTestTasks(t)
	client := &scriptedClient{responses: []llm.Response{{Content: "hi again"}}}
	r := newTestRunner(t, client, svc, confirm.NewStore(0))

	window := []llm.Message{
		{Role: llm.RoleUser, Content: "earlier question"},
		{Role: llm.RoleAssistant, Content: "earlier answer"},
	}
	res := r.Run(context.Background(), Request{Owner: "alice", Message: "hello", Window: window})
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}

	msgs := client.requests[0].Messages
	if msgs[0].Role != llm.RoleSystem {
		t.Errorf("first message role = %q, want system", msgs[0].Role)
	}
	if len(msgs) != 4 {
		t.Fatalf("messages sent = %d, want 4 (system + 2 window + user)", len(msgs))
	}
	if msgs[1].Content != "earlier question" || msgs[3].Content != "hello" {
		t.Errorf("message order wrong: %+v", msgs)
	}
}

func TestDetectBulkOperation(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"delete all my tasks", ActionDeleteAll},
		{"please DELETE ALL TASKS now", ActionDeleteAll},
		{"remove every todo", ActionDeleteAll},
		{"clear all of my tasks", ActionDeleteAll},
		{"complete all tasks", ActionCompleteAll},
		{"mark all my tasks as done", ActionCompleteAll},
		{"finish every task", ActionCompleteAll},
		{"delete the groceries task", ""},
		{"complete task 3", ""},
		{"what are all my tasks", ""},
	}
	for _, tc := range cases {
		if got := detectBulkOperation(tc.message); got != tc.want {
			t.Errorf("detectBulkOperation(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestToolset_InvokeMalformedParams(t *testing.T) {
	svc := newTestTasks(t)
	ts, err := NewToolset(svc)
	if err != nil {
		t.Fatalf("NewToolset: %v", err)
	}

	out := ts.Invoke("alice", toolCall(ToolCreateTask, `{"title":"x","bogus":true}`))
	if out.Record.Result.OK {
		t.Error("unknown field should fail closed")
	}
	out = ts.Invoke("alice", toolCall(ToolCreateTask, `{"title":123}`))
	if out.Record.Result.OK {
		t.Error("type mismatch should fail closed")
	}
}

func TestToolset_InvokeEmptyArgs(t *testing.T) {
	svc := newTestTasks(t)
	ts, _ := NewToolset(svc)

	out := ts.Invoke("alice", llm.ToolCall{ID: "c1", Name: ToolListTasks})
	if !out.Record.Result.OK {
		t.Errorf("empty arguments should decode as empty object: %s", out.Record.Result.Error)
	}
	if string(out.Record.Parameters) != "{}" {
		t.Errorf("Parameters = %s, want {}", out.Record.Parameters)
	}
}

func TestToolset_OwnerScoped(t *testing.T) {
	svc := newTestTasks(t)
	task, err := svc.Create("bob", "Bob's secret", "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	ts, _ := NewToolset(svc)

	args := `{"task_id":` + strconv.FormatUint(uint64(task.ID), 10) + `}`
	out := ts.Invoke("alice", toolCall(ToolDeleteTask, args))
	if out.Record.Result.OK {
		t.Error("alice deleted bob's task")
	}
	if _, err := svc.Get(task.ID, "bob"); err != nil {
		t.Errorf("bob's task gone: %v", err)
	}
}

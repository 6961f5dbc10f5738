package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/confirm"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/tasks"
)

// Defaults for the reasoning loop.
const (
	DefaultMaxSteps = 8
	DefaultTimeout  = 60 * time.Second
)

// Terminal failure classes. The Result still carries user-facing text
// for both; these let the transport layer pick a status code.
var (
	ErrStepBudgetExceeded = errors.New("agent: step budget exceeded")
	ErrBackend            = errors.New("agent: reasoning backend unavailable")
)

// Runner drives the reason-and-act loop for one request at a time. It
// owns no per-request state and is safe for concurrent use.
type Runner struct {
	llm      llm.Client
	tools    *Toolset
	tasks    *tasks.Service
	confirms *confirm.Store
	maxSteps int
	timeout  time.Duration
	out      io.Writer
}

// Opts configures a Runner.
type Opts struct {
	LLM      llm.Client
	Tools    *Toolset
	Tasks    *tasks.Service
	Confirms *confirm.Store
	MaxSteps int           // <= 0 means DefaultMaxSteps
	Timeout  time.Duration // <= 0 means DefaultTimeout
	Out      io.Writer     // defaults to io.Discard
}

// NewRunner creates a Runner.
func NewRunner(opts Opts) (*Runner, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("agent: llm client is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("agent: toolset is required")
	}
	if opts.Tasks == nil {
		return nil, fmt.Errorf("agent: task service is required")
	}
	if opts.Confirms == nil {
		return nil, fmt.Errorf("agent: confirmation store is required")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Runner{
		llm:      opts.LLM,
		tools:    opts.Tools,
		tasks:    opts.Tasks,
		confirms: opts.Confirms,
		maxSteps: opts.MaxSteps,
		timeout:  opts.Timeout,
		out:      opts.Out,
	}, nil
}

// Request is one orchestration cycle's input. Window is the recent
// conversation history, oldest first, not including Message. Events is
// optional; when set the runner sends progress frames on it and closes
// it before returning.
type Request struct {
	Owner        string
	Message      string
	Window       []llm.Message
	ConfirmToken string
	Events       chan<- Event
}

// run carries the in-flight state of one cycle.
type run struct {
	r       *Runner
	req     Request
	started time.Time
	res     *Result
	logger  *log.Logger
}

// Run executes one orchestration cycle. The returned Result always has
// user-visible Response text, even when Err is set.
func (r *Runner) Run(ctx context.Context, req Request) *Result {
	c := &run{
		r:       r,
		req:     req,
		started: time.Now(),
		res:     &Result{},
		logger:  log.New(r.out, "agent ", log.LstdFlags),
	}
	defer func() {
		c.res.DurationMS = time.Since(c.started).Milliseconds()
		if req.Events != nil {
			close(req.Events)
		}
	}()

	// Once a cycle starts it runs to completion even if the client
	// disconnects; a half-applied tool call is worse than a wasted one.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	c.think(StepAnalyzing, "Understanding your request")

	if req.ConfirmToken != "" {
		c.executeConfirmed()
		return c.res
	}

	if action := detectBulkOperation(req.Message); action != "" {
		c.gateBulk(action)
		return c.res
	}

	c.loop(runCtx)
	return c.res
}

// executeConfirmed runs a previously gated bulk action. An invalid or
// expired token is recovered locally: the user is asked to restate the
// request, nothing executes, and Err stays nil.
func (c *run) executeConfirmed() {
	pending, err := c.r.confirms.Consume(c.req.ConfirmToken, c.req.Owner)
	if errors.Is(err, confirm.ErrTokenInvalid) {
		c.res.Response = "That confirmation has expired or was already used. If you still want to proceed, just ask again and I'll set up a fresh one."
		return
	}
	if err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrBackend, err),
			"Something went wrong on my end while checking that confirmation. Please try again.")
		return
	}

	c.think(StepProcessing, fmt.Sprintf("Running confirmed %s", pending.Action))

	start := time.Now()
	var (
		count   int64
		execErr error
	)
	switch pending.Action {
	case ActionDeleteAll:
		count, execErr = c.r.tasks.DeleteAll(c.req.Owner)
	case ActionCompleteAll:
		count, execErr = c.r.tasks.CompleteAll(c.req.Owner)
	default:
		execErr = fmt.Errorf("agent: unknown bulk action %q", pending.Action)
	}

	rec := ToolCallRecord{
		Tool:       pending.Action,
		Parameters: []byte(fmt.Sprintf(`{"confirmed":true,"total_items":%d}`, pending.TotalItems)),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if execErr != nil {
		rec.Result = ToolResult{OK: false, Error: execErr.Error()}
		c.record(rec)
		c.fail(fmt.Errorf("%w: %v", ErrBackend, execErr),
			"I couldn't finish that bulk operation. Your tasks are unchanged; please try again.")
		return
	}
	rec.Result = ToolResult{OK: true, Payload: map[string]interface{}{"count": count}}
	c.record(rec)

	switch pending.Action {
	case ActionDeleteAll:
		c.res.Response = fmt.Sprintf("Done — deleted %d task%s. Your list is empty now.", count, plural(count))
	case ActionCompleteAll:
		c.res.Response = fmt.Sprintf("Done — marked %d task%s as complete. Nice work!", count, plural(count))
	}
	c.logger.Printf("owner=%s confirmed %s count=%d", c.req.Owner, pending.Action, count)
}

// gateBulk intercepts a bulk request before any backend call: it looks
// up what would actually be affected, and either short-circuits (nothing
// to do) or issues a confirmation token.
func (c *run) gateBulk(action string) {
	c.think(StepPlanning, fmt.Sprintf("This looks like a bulk %s; checking what it would affect", strings.ReplaceAll(action, "_", " ")))

	filter := tasks.ListFilter{}
	if action == ActionCompleteAll {
		pending := false
		filter.Completed = &pending
	}
	affected, err := c.r.tasks.List(c.req.Owner, filter)
	if err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrBackend, err),
			"I couldn't check your task list just now. Please try again.")
		return
	}

	if len(affected) == 0 {
		if action == ActionDeleteAll {
			c.res.Response = "You don't have any tasks to delete — your list is already empty."
		} else {
			c.res.Response = "You don't have any pending tasks — everything is already complete."
		}
		return
	}

	items := make([]confirm.Item, len(affected))
	for i, t := range affected {
		items[i] = confirm.Item{ID: t.ID, Title: t.Title}
	}

	pending, err := c.r.confirms.Issue(c.req.Owner, action, items)
	if err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrBackend, err),
			"I couldn't set up the confirmation for that. Please try again.")
		return
	}

	verb := "delete"
	if action == ActionCompleteAll {
		verb = "mark as complete"
	}
	msg := fmt.Sprintf("This will %s %d task%s. Are you sure?", verb, pending.TotalItems, plural(int64(pending.TotalItems)))

	c.res.Confirmation = &ConfirmationRequest{
		Action:        action,
		Message:       msg,
		AffectedItems: pending.Items,
		TotalItems:    pending.TotalItems,
		ConfirmToken:  pending.Token,
	}
	c.res.Response = msg
	c.think(StepClarifying, "Waiting for the user to confirm")
	c.logger.Printf("owner=%s gated %s total=%d", c.req.Owner, action, pending.TotalItems)
}

// loop is the plain reason-and-act cycle: call the backend, execute any
// tool calls it requests, feed results back, repeat until it answers in
// text or the step budget runs out.
func (c *run) loop(ctx context.Context) {
	messages := make([]llm.Message, 0, len(c.req.Window)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, c.req.Window...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: c.req.Message})

	catalog := c.r.tools.Catalog()

	for step := 0; step < c.r.maxSteps; step++ {
		resp, err := c.r.llm.Complete(ctx, llm.Request{Messages: messages, Tools: catalog})
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrBackend, err),
				"I'm having trouble reaching my reasoning service right now. Please try again in a moment.")
			return
		}

		if len(resp.ToolCalls) == 0 {
			c.res.Response = resp.Content
			if c.res.Response == "" {
				c.res.Response = "I'm not sure how to help with that. Could you rephrase?"
			}
			return
		}

		c.think(StepPlanning, fmt.Sprintf("Using %s", toolNames(resp.ToolCalls)))

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			out := c.r.tools.Invoke(c.req.Owner, call)

			if len(out.Candidates) > 0 {
				c.clarifyAmbiguous(out)
				return
			}

			c.record(out.Record)
			c.think(StepToolCall, fmt.Sprintf("Called %s", call.Name))
			c.logger.Printf("owner=%s tool=%s ok=%t duration=%dms",
				c.req.Owner, call.Name, out.Record.Result.OK, out.Record.DurationMS)

			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    out.Content,
				ToolCallID: call.ID,
			})
		}

		c.think(StepProcessing, "Putting together a response")
	}

	c.fail(ErrStepBudgetExceeded,
		"That request took more steps than I allow in one go. Try breaking it into smaller pieces or rephrasing.")
}

// clarifyAmbiguous answers a title_match that hit several tasks. Nothing
// was mutated; the user picks by id and asks again.
func (c *run) clarifyAmbiguous(out Outcome) {
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d tasks matching %q — which one did you mean?\n", len(out.Candidates), out.Query)
	for _, t := range out.Candidates {
		fmt.Fprintf(&b, "- #%d %s\n", t.ID, t.Title)
	}
	b.WriteString("Tell me the number and I'll take care of it.")

	c.res.Response = b.String()
	c.think(StepClarifying, fmt.Sprintf("%q matches %d tasks; asking which one", out.Query, len(out.Candidates)))
	c.logger.Printf("owner=%s ambiguous match %q hits=%d", c.req.Owner, out.Query, len(out.Candidates))
}

func (c *run) think(stepType, content string) {
	step := ThinkingStep{
		Type:      stepType,
		Content:   content,
		Timestamp: time.Since(c.started).Seconds(),
	}
	c.res.Thinking = append(c.res.Thinking, step)
	c.emit(Event{Type: EventThinking, Step: &step})
}

func (c *run) record(rec ToolCallRecord) {
	c.res.ToolCalls = append(c.res.ToolCalls, rec)
	c.emit(Event{Type: EventToolCall, ToolCall: &rec})
}

func (c *run) emit(ev Event) {
	if c.req.Events != nil {
		c.req.Events <- ev
	}
}

func (c *run) fail(err error, response string) {
	c.res.Err = err
	c.res.Response = response
	c.logger.Printf("owner=%s run failed: %v", c.req.Owner, err)
}

func toolNames(calls []llm.ToolCall) string {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	return strings.Join(names, ", ")
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}

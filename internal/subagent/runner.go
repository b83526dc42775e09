package subagent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anvilrun/anvil/internal/agent"
	contextutil "github.com/anvilrun/anvil/internal/agent/context"
	"github.com/anvilrun/anvil/internal/cache"
	"github.com/anvilrun/anvil/internal/capability"
	"github.com/anvilrun/anvil/internal/events"
	"github.com/anvilrun/anvil/internal/permission"
	"github.com/anvilrun/anvil/pkg/models"
)

// RunTaskRequest is the run_task({description, prompt, subagentType,
// model?, resumeId?}) call per spec §4.8.
type RunTaskRequest struct {
	Description  string
	Prompt       string
	SubagentType string
	Model        string
	ResumeID     string
}

// RunTaskResult is {output}: the formatted report string.
type RunTaskResult struct {
	Output string
}

// View is the parent's capability/permission view a child must be
// rebuilt under, so the child can never exceed the parent's tool rights.
type View struct {
	Host         *capability.Host
	Manifest     permission.Manifest
	ToolSettings permission.ToolSettings
	HasSecret    permission.SecretLookup
	ModuleCtx    capability.ModuleContext
}

// Runner is the Sub-Agent Runner (C8): it spawns a fresh Agent Loop per
// run_task call, under the parent's Permission Resolver view, with
// snapshot/resume via a Store and signed resume tokens.
type Runner struct {
	Provider         agent.Provider
	View             View
	Store            Store
	Tokens           *TokenService
	BaseSystemPrompt string
	ContextWindow    int
}

// RunTask executes the six-step sub-agent protocol: resolve the profile,
// rebuild the capability/tool surface under the parent's permission view,
// load or start a snapshot, run one non-streaming send(), persist the
// updated snapshot, and format the report.
func (r *Runner) RunTask(ctx context.Context, req RunTaskRequest) (RunTaskResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return RunTaskResult{}, fmt.Errorf("subagent: prompt is required")
	}

	typeName, profile := ResolveProfile(req.SubagentType)

	registry, err := r.buildRegistry()
	if err != nil {
		return RunTaskResult{}, err
	}

	var history []models.ConversationMessage
	var snapshotKey string
	if req.ResumeID != "" {
		key, err := r.Tokens.Verify(req.ResumeID)
		if err != nil {
			return RunTaskResult{}, agent.NewResumeNotFoundError(req.ResumeID)
		}
		snap, ok, err := r.Store.Load(ctx, key)
		if err != nil {
			return RunTaskResult{}, fmt.Errorf("subagent: load snapshot: %w", err)
		}
		if !ok {
			return RunTaskResult{}, agent.NewResumeNotFoundError(req.ResumeID)
		}
		history = snap.History
		snapshotKey = key
	} else {
		snapshotKey = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = profile.DefaultModel
	}

	systemPrompt := strings.TrimSpace(strings.Join([]string{
		r.BaseSystemPrompt,
		profile.Directive,
		"Task: " + req.Description,
	}, "\n\n"))

	loop := agent.NewLoop(r.Provider, registry, contextutil.NewManager(r.ContextWindow), agent.LoopConfig{
		Model:        model,
		SystemPrompt: systemPrompt,
		Stream:       false,
	})
	if len(history) > 0 {
		loop.SeedMessages(history)
	}

	stream := events.New()
	started := time.Now()
	content, sendErr := loop.Send(ctx, req.Prompt, stream)
	duration := time.Since(started)

	inputTokens, outputTokens := drainUsage(stream)

	if sendErr != nil {
		return RunTaskResult{}, fmt.Errorf("subagent: run_task %q failed: %w", typeName, sendErr)
	}

	snapshot := Snapshot{History: loop.Messages(), CreatedAt: started, UpdatedAt: time.Now()}
	if len(history) > 0 {
		snapshot.CreatedAt = history[0].CreatedAt
	}
	if err := r.Store.Save(ctx, snapshotKey, snapshot); err != nil {
		return RunTaskResult{}, fmt.Errorf("subagent: save snapshot: %w", err)
	}

	resumeToken, err := r.Tokens.Issue(snapshotKey)
	if err != nil {
		return RunTaskResult{}, fmt.Errorf("subagent: issue resume token: %w", err)
	}

	_, response := parseReply(content)
	report := fmt.Sprintf(
		"duration: %s\ntokens: in=%d out=%d\nresume: %s\n\n%s",
		duration.Round(time.Millisecond), inputTokens, outputTokens, resumeToken, response,
	)
	return RunTaskResult{Output: report}, nil
}

// buildRegistry rebuilds the Tool Registry from the parent's capability
// host, filtered through the parent's Permission Resolver view, so the
// child cannot see any tool the parent itself could not use.
func (r *Runner) buildRegistry() (*agent.Registry, error) {
	suites, err := r.View.Host.Build(r.View.ModuleCtx)
	if err != nil {
		return nil, fmt.Errorf("subagent: rebuild capability host: %w", err)
	}

	resolution := permission.Resolve(r.View.ToolSettings, r.View.Manifest, r.View.HasSecret)

	registry := agent.NewRegistry(cache.New(cache.Options{}))
	for _, suite := range suites {
		if !resolution.Allows(r.View.Manifest, suite.ID) {
			continue
		}
		if err := registry.RegisterSuite(suite); err != nil {
			return nil, fmt.Errorf("subagent: register suite %q: %w", suite.ID, err)
		}
	}
	return registry, nil
}

// drainUsage consumes every remaining event on a terminal stream and sums
// the usage payloads it carries. Isolation (spec §4.8): the child's
// events never bubble to the parent beyond this aggregate.
func drainUsage(stream *events.Stream) (inputTokens, outputTokens int) {
	for {
		event, ok, err := stream.Next()
		if !ok || err != nil {
			return inputTokens, outputTokens
		}
		if event.Type == models.EventUsage && event.Usage != nil {
			if event.Usage.InputTokens != nil {
				inputTokens += *event.Usage.InputTokens
			}
			if event.Usage.OutputTokens != nil {
				outputTokens += *event.Usage.OutputTokens
			}
		}
	}
}

// parseReply splits optional <thinking>...</thinking> and
// <response>...</response> blocks out of a reply. Content outside a
// <response> block, when no such block is present, is the response body
// verbatim.
func parseReply(content string) (thinking, response string) {
	thinking = extractTag(content, "thinking")
	if body := extractTag(content, "response"); body != "" {
		return thinking, body
	}
	return thinking, strings.TrimSpace(content)
}

func extractTag(content, tag string) string {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	start := strings.Index(content, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(content[start:], closeTag)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(content[start : start+end])
}

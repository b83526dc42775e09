package subagent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/internal/capability"
	"github.com/anvilrun/anvil/internal/permission"
)

type scriptedProvider struct {
	responses []agent.CompletionResult
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	if p.calls >= len(p.responses) {
		return agent.CompletionResult{}, nil
	}
	res := p.responses[p.calls]
	p.calls++
	return res, nil
}

func (p *scriptedProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	return nil, nil
}

type emptyModule struct{}

func (emptyModule) ID() string { return "empty" }
func (emptyModule) Create(ctx capability.ModuleContext) ([]capability.Contribution, error) {
	return nil, nil
}

func newTestRunner(t *testing.T, provider agent.Provider) *Runner {
	t.Helper()
	host := capability.New()
	if err := host.RegisterModule(emptyModule{}); err != nil {
		t.Fatalf("RegisterModule: %v", err)
	}
	return &Runner{
		Provider:         provider,
		ContextWindow:    8000,
		BaseSystemPrompt: "you are the parent's helpful agent",
		Store:            NewMemoryStore(),
		Tokens:           NewTokenService("test-secret", time.Hour),
		View: View{
			Host:         host,
			Manifest:     permission.Manifest{},
			ToolSettings: permission.ToolSettings{},
			HasSecret:    func(string) bool { return false },
			ModuleCtx:    capability.ModuleContext{Profile: "default"},
		},
	}
}

func TestRunTaskReturnsFormattedReport(t *testing.T) {
	provider := &scriptedProvider{responses: []agent.CompletionResult{
		{Content: "<thinking>considering</thinking><response>all done</response>", InputTokens: 10, OutputTokens: 5},
	}}
	runner := newTestRunner(t, provider)

	result, err := runner.RunTask(context.Background(), RunTaskRequest{
		Description:  "investigate the bug",
		Prompt:       "find the bug",
		SubagentType: "explore",
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if !strings.Contains(result.Output, "all done") {
		t.Fatalf("expected response body in output, got %q", result.Output)
	}
	if !strings.Contains(result.Output, "tokens: in=10 out=5") {
		t.Fatalf("expected usage in output, got %q", result.Output)
	}
}

func TestRunTaskRejectsEmptyPrompt(t *testing.T) {
	runner := newTestRunner(t, &scriptedProvider{})
	if _, err := runner.RunTask(context.Background(), RunTaskRequest{Description: "x"}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestRunTaskUnknownResumeIDFails(t *testing.T) {
	runner := newTestRunner(t, &scriptedProvider{responses: []agent.CompletionResult{{Content: "ok"}}})
	_, err := runner.RunTask(context.Background(), RunTaskRequest{
		Description: "x", Prompt: "hi", ResumeID: "not-a-real-token",
	})
	if err == nil {
		t.Fatal("expected error for an invalid resume id")
	}
}

func TestRunTaskResumeRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: []agent.CompletionResult{
		{Content: "first reply"},
		{Content: "second reply"},
	}}
	runner := newTestRunner(t, provider)

	first, err := runner.RunTask(context.Background(), RunTaskRequest{Description: "x", Prompt: "start"})
	if err != nil {
		t.Fatalf("first RunTask: %v", err)
	}
	resumeID := extractResumeID(t, first.Output)

	second, err := runner.RunTask(context.Background(), RunTaskRequest{
		Description: "x", Prompt: "continue", ResumeID: resumeID,
	})
	if err != nil {
		t.Fatalf("resumed RunTask: %v", err)
	}
	if !strings.Contains(second.Output, "second reply") {
		t.Fatalf("expected resumed reply in output, got %q", second.Output)
	}
}

func TestResolveProfileDefaultsToGeneralPurpose(t *testing.T) {
	name, _ := ResolveProfile("not-a-real-type")
	if name != "general-purpose" {
		t.Fatalf("expected fallback to general-purpose, got %q", name)
	}
}

func extractResumeID(t *testing.T, report string) string {
	t.Helper()
	const marker = "resume: "
	start := strings.Index(report, marker)
	if start < 0 {
		t.Fatalf("no resume id found in report %q", report)
	}
	start += len(marker)
	end := strings.Index(report[start:], "\n")
	if end < 0 {
		t.Fatalf("malformed report %q", report)
	}
	return report[start : start+end]
}

package capability

import (
	"context"
	"testing"

	"github.com/anvilrun/anvil/pkg/models"
)

type fakeModule struct {
	id            string
	contributions []Contribution
	err           error
}

func (f fakeModule) ID() string { return f.id }
func (f fakeModule) Create(ModuleContext) ([]Contribution, error) {
	return f.contributions, f.err
}

func suiteWith(id string, toolNames ...string) models.ToolSuite {
	tools := make([]models.ToolDefinition, len(toolNames))
	for i, n := range toolNames {
		tools[i] = models.ToolDefinition{Name: n}
	}
	return models.ToolSuite{ID: id, Tools: tools}
}

func TestBuildBindsModulesInRegistrationOrder(t *testing.T) {
	h := New()
	h.RegisterModule(fakeModule{id: "a", contributions: []Contribution{{ID: "a.c1", ToolSuite: suitePtr(suiteWith("a.suite"))}}})
	h.RegisterModule(fakeModule{id: "b", contributions: []Contribution{{ID: "b.c1", ToolSuite: suitePtr(suiteWith("b.suite"))}}})

	suites, err := h.Build(ModuleContext{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(suites) != 2 || suites[0].ID != "a.suite" || suites[1].ID != "b.suite" {
		t.Fatalf("unexpected suite order: %+v", suites)
	}

	manifest := h.DescribeCapabilities()
	if len(manifest) != 2 || manifest[0].ModuleID != "a" || manifest[1].ModuleID != "b" {
		t.Fatalf("unexpected manifest order: %+v", manifest)
	}
}

func TestBuildRejectsDuplicateSuiteID(t *testing.T) {
	h := New()
	h.RegisterModule(fakeModule{id: "a", contributions: []Contribution{{ID: "a.c1", ToolSuite: suitePtr(suiteWith("shared"))}}})
	h.RegisterModule(fakeModule{id: "b", contributions: []Contribution{{ID: "b.c1", ToolSuite: suitePtr(suiteWith("shared"))}}})

	_, err := h.Build(ModuleContext{})
	if err == nil {
		t.Fatalf("expected duplicate suite id error")
	}
	var dup *ErrDuplicateSuite
	if !asDuplicate(err, &dup) {
		t.Fatalf("expected ErrDuplicateSuite, got %v", err)
	}
}

func asDuplicate(err error, target **ErrDuplicateSuite) bool {
	if d, ok := err.(*ErrDuplicateSuite); ok {
		*target = d
		return true
	}
	return false
}

func suitePtr(s models.ToolSuite) *models.ToolSuite { return &s }

func TestRegisterModuleRejectedAfterFirstBuild(t *testing.T) {
	h := New()
	h.RegisterModule(fakeModule{id: "a"})
	if _, err := h.Build(ModuleContext{}); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}

	err := h.RegisterModule(fakeModule{id: "late"})
	if err == nil {
		t.Fatalf("expected SessionFrozen error")
	}
	if _, ok := err.(*ErrSessionFrozen); !ok {
		t.Fatalf("expected *ErrSessionFrozen, got %T", err)
	}
}

func TestShutdownCallsDisposeBestEffortDespitePanic(t *testing.T) {
	h := New()
	var disposedB bool
	h.RegisterModule(fakeModule{id: "a", contributions: []Contribution{
		{ID: "a.c1", Dispose: func(context.Context) { panic("boom") }},
	}})
	h.RegisterModule(fakeModule{id: "b", contributions: []Contribution{
		{ID: "b.c1", Dispose: func(context.Context) { disposedB = true }},
	}})
	if _, err := h.Build(ModuleContext{}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	h.Shutdown(context.Background())
	if !disposedB {
		t.Fatalf("expected second module's dispose to run despite first panicking")
	}
}

func TestModuleCreateErrorPropagates(t *testing.T) {
	h := New()
	wantErr := contextError{}
	h.RegisterModule(fakeModule{id: "broken", err: wantErr})

	_, err := h.Build(ModuleContext{})
	if err == nil {
		t.Fatalf("expected Build() to surface module Create error")
	}
}

type contextError struct{}

func (contextError) Error() string { return "module failed to initialize" }

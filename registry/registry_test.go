package registry

import (
	"context"
	"testing"

	"github.com/Casys-AI/mcp-server/mcp"
)

func noopTool(name string) *mcp.Tool {
	return &mcp.Tool{Name: name, Handler: func(ctx context.Context, ic *mcp.InvocationContext) (any, error) { return nil, nil }}
}

func noopResource(uri string) *mcp.Resource {
	return &mcp.Resource{URI: uri, Handler: func(ctx context.Context, uri string) (*mcp.ResourceResult, error) { return nil, nil }}
}

func TestRegisterToolsDuplicateRejected(t *testing.T) {
	r := New()
	if err := r.RegisterTools(noopTool("a")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.RegisterTools(noopTool("a")); err == nil {
		t.Fatalf("expected duplicate tool error")
	}
}

func TestRegisterToolsMissingHandlerRejected(t *testing.T) {
	r := New()
	err := r.RegisterTools(&mcp.Tool{Name: "broken"})
	if err == nil {
		t.Fatalf("expected missing-handler error")
	}
	if _, ok := r.GetTool("broken"); ok {
		t.Fatalf("failed registration must not leave a partial tool behind")
	}
}

func TestRegisterToolsAfterStartRejected(t *testing.T) {
	r := New()
	r.Start()
	if err := r.RegisterTools(noopTool("a")); err == nil {
		t.Fatalf("expected error registering after Start")
	}
}

func TestLiveRegisterAfterStart(t *testing.T) {
	r := New()
	r.Start()
	if err := r.LiveRegister(noopTool("a")); err != nil {
		t.Fatalf("live register: %v", err)
	}
	if _, ok := r.GetTool("a"); !ok {
		t.Fatalf("expected tool a to be present")
	}
}

func TestUnregisterRemovesTool(t *testing.T) {
	r := New()
	_ = r.RegisterTools(noopTool("a"))
	r.Unregister("a")
	if _, ok := r.GetTool("a"); ok {
		t.Fatalf("expected tool a to be removed")
	}
}

func TestListToolsSortedByName(t *testing.T) {
	r := New()
	_ = r.RegisterTools(noopTool("zebra"), noopTool("alpha"), noopTool("mango"))
	got := r.ListTools()
	if len(got) != 3 {
		t.Fatalf("got %d tools, want 3", len(got))
	}
	want := []string{"alpha", "mango", "zebra"}
	for i, w := range want {
		if got[i].Name != w {
			t.Errorf("ListTools()[%d] = %q, want %q", i, got[i].Name, w)
		}
	}
}

func TestRegisterResourcesAtomicOnDuplicate(t *testing.T) {
	r := New()
	if err := r.RegisterResources(noopResource("ui:one")); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	err := r.RegisterResources(noopResource("ui:two"), noopResource("ui:one"))
	if err == nil {
		t.Fatalf("expected duplicate error for ui:one")
	}
	if _, ok := r.GetResource("ui:two"); ok {
		t.Fatalf("a failed batch must not partially register ui:two")
	}
}

func TestRegisterResourcesAtomicOnMissingHandler(t *testing.T) {
	r := New()
	err := r.RegisterResources(noopResource("ui:good"), &mcp.Resource{URI: "ui:bad"})
	if err == nil {
		t.Fatalf("expected missing-handler error")
	}
	if _, ok := r.GetResource("ui:good"); ok {
		t.Fatalf("failed batch must leave the registry untouched")
	}
}

func TestHasResourcesCapabilityExpectMode(t *testing.T) {
	r := New(WithExpectResources())
	if !r.HasResourcesCapability() {
		t.Fatalf("expect-resources mode should advertise the capability before any registration")
	}
}

func TestHasResourcesCapabilityDefault(t *testing.T) {
	r := New()
	if r.HasResourcesCapability() {
		t.Fatalf("capability should not be advertised until a resource is registered")
	}
	_ = r.RegisterResources(noopResource("ui:one"))
	if !r.HasResourcesCapability() {
		t.Fatalf("capability should be advertised once a resource exists")
	}
}

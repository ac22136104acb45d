package dispatch

import (
	"testing"

	"github.com/webbridge/webbridge/internal/config"
)

func TestRegistryClosedSet(t *testing.T) {
	r := NewRegistry(config.DefaultTools)

	for _, name := range config.DefaultTools {
		if !r.Enabled(name) {
			t.Errorf("%s not enabled", name)
		}
	}
	if r.Known("browser_teleport") {
		t.Error("made-up tool is known")
	}
	if r.Enabled("browser_teleport") {
		t.Error("made-up tool is enabled")
	}
	if got := len(r.List()); got != len(config.DefaultTools) {
		t.Errorf("List returned %d tools", got)
	}
}

func TestRegistryListOrderStable(t *testing.T) {
	r := NewRegistry(config.DefaultTools)
	decls := r.List()
	for i, d := range Declarations() {
		if decls[i].Name != d.Name {
			t.Fatalf("List order differs at %d: %s vs %s", i, decls[i].Name, d.Name)
		}
	}
}

func TestRegistrySetAllowedNotifiesDiff(t *testing.T) {
	r := NewRegistry([]string{ToolNavigate, ToolSnapshot})

	var gotAdded, gotRemoved []string
	r.OnChange(func(added, removed []string) {
		gotAdded = added
		gotRemoved = removed
	})

	r.SetAllowed([]string{ToolSnapshot, ToolClick})

	if len(gotAdded) != 1 || gotAdded[0] != ToolClick {
		t.Errorf("added = %v, want [%s]", gotAdded, ToolClick)
	}
	if len(gotRemoved) != 1 || gotRemoved[0] != ToolNavigate {
		t.Errorf("removed = %v, want [%s]", gotRemoved, ToolNavigate)
	}

	if r.Enabled(ToolNavigate) {
		t.Error("removed tool still enabled")
	}
	if !r.Enabled(ToolClick) {
		t.Error("added tool not enabled")
	}
}

func TestRegistrySetAllowedNoChangeNoNotify(t *testing.T) {
	r := NewRegistry([]string{ToolSnapshot})

	called := false
	r.OnChange(func(added, removed []string) { called = true })

	r.SetAllowed([]string{ToolSnapshot, "not_a_tool"})

	if called {
		t.Error("listener fired without an effective change")
	}
}

func TestDeclarationsHaveSchemas(t *testing.T) {
	for _, d := range Declarations() {
		if d.Description == "" {
			t.Errorf("%s has no description", d.Name)
		}
		if d.Schema["type"] != "object" {
			t.Errorf("%s schema type = %v", d.Name, d.Schema["type"])
		}
		if _, ok := d.Schema["properties"]; !ok {
			t.Errorf("%s schema has no properties", d.Name)
		}
	}
}

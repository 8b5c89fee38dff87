package soul

import "testing"

func TestRegionOrderingOnFlatten(t *testing.T) {
	wm := NewWorkingMemory("persona")
	wm = wm.Append(RegionDefault, Turn{Role: RoleUser, Content: "hi"})
	wm = wm.ReplaceRegion(RegionSummary, Turn{Role: RoleAssistant, Content: "scene"})
	wm = wm.Append(RegionDefault, Turn{Role: RoleAssistant, Content: "hello"})

	flat := wm.Flatten()
	want := []string{"persona", "scene", "hi", "hello"}
	if len(flat) != len(want) {
		t.Fatalf("flatten length = %d, want %d", len(flat), len(want))
	}
	for i, content := range want {
		if flat[i].Content != content {
			t.Errorf("flat[%d] = %q, want %q", i, flat[i].Content, content)
		}
	}
}

func TestAppendDoesNotMutateOriginal(t *testing.T) {
	base := NewWorkingMemory("core")
	grown := base.Append(RegionDefault, Turn{Role: RoleUser, Content: "one"})
	grown.Append(RegionDefault, Turn{Role: RoleUser, Content: "two"})

	if base.Len() != 1 {
		t.Errorf("base mutated: Len() = %d, want 1", base.Len())
	}
	if grown.Len() != 2 {
		t.Errorf("grown Len() = %d, want 2", grown.Len())
	}
}

func TestUnknownRegionFallsBackToDefault(t *testing.T) {
	wm := NewWorkingMemory("").Append("scratch", Turn{Role: RoleUser, Content: "x"})
	if got := len(wm.Region(RegionDefault)); got != 1 {
		t.Errorf("default region size = %d, want 1", got)
	}
}

func TestTrimDefaultKeepsMostRecent(t *testing.T) {
	wm := NewWorkingMemory("core")
	for i := 0; i < 12; i++ {
		wm = wm.Append(RegionDefault, Turn{Role: RoleUser, Content: string(rune('a' + i))})
	}

	trimmed := wm.TrimDefault(5)
	def := trimmed.Region(RegionDefault)
	if len(def) != 5 {
		t.Fatalf("default region size = %d, want 5", len(def))
	}
	if def[0].Content != "h" || def[4].Content != "l" {
		t.Errorf("kept turns %q..%q, want h..l", def[0].Content, def[4].Content)
	}
	if len(trimmed.Region(RegionCore)) != 1 {
		t.Error("core region touched by trim")
	}
}

func TestReplaceRegionIsWholesale(t *testing.T) {
	wm := NewWorkingMemory("")
	wm = wm.ReplaceRegion(RegionSummary, Turn{Content: "first"})
	wm = wm.ReplaceRegion(RegionSummary, Turn{Content: "second"})

	sum := wm.Region(RegionSummary)
	if len(sum) != 1 || sum[0].Content != "second" {
		t.Errorf("summary region = %+v, want single turn %q", sum, "second")
	}
}

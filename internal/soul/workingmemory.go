package soul

// Role classifies who a turn belongs to when the memory is rendered
// for an inference call.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Region names. Regions flatten in this order: core holds the static
// persona and is never evicted, summary holds at most one rolling
// paragraph, default holds raw recent turns and may be truncated.
const (
	RegionCore    = "core"
	RegionSummary = "summary"
	RegionDefault = "default"
)

var regionOrder = []string{RegionCore, RegionSummary, RegionDefault}

// Turn is one entry in working memory.
type Turn struct {
	Role    Role
	Content string
	Speaker string
	Meta    map[string]any
}

// WorkingMemory is the ordered, region-partitioned conversational
// context threaded through every decision step. Mutating methods
// return a modified copy so an aborted pipeline can hand back its
// input untouched.
type WorkingMemory struct {
	regions map[string][]Turn
}

// NewWorkingMemory builds a memory whose core region holds the given
// persona text as a system turn. Empty persona text leaves core empty.
func NewWorkingMemory(persona string) *WorkingMemory {
	wm := &WorkingMemory{regions: make(map[string][]Turn)}
	if persona != "" {
		wm.regions[RegionCore] = []Turn{{Role: RoleSystem, Content: persona}}
	}
	return wm
}

func (wm *WorkingMemory) clone() *WorkingMemory {
	out := &WorkingMemory{regions: make(map[string][]Turn, len(wm.regions))}
	for name, turns := range wm.regions {
		copied := make([]Turn, len(turns))
		copy(copied, turns)
		out.regions[name] = copied
	}
	return out
}

// Append adds a turn to the end of the named region, preserving
// insertion order within the region. Unknown region names go to
// default.
func (wm *WorkingMemory) Append(region string, t Turn) *WorkingMemory {
	if region != RegionCore && region != RegionSummary && region != RegionDefault {
		region = RegionDefault
	}
	out := wm.clone()
	out.regions[region] = append(out.regions[region], t)
	return out
}

// ReplaceRegion swaps the named region's content wholesale for the
// single given turn.
func (wm *WorkingMemory) ReplaceRegion(region string, t Turn) *WorkingMemory {
	out := wm.clone()
	out.regions[region] = []Turn{t}
	return out
}

// TrimDefault keeps only the most recent n turns of the default
// region. Other regions are untouched.
func (wm *WorkingMemory) TrimDefault(n int) *WorkingMemory {
	out := wm.clone()
	turns := out.regions[RegionDefault]
	if n < 0 {
		n = 0
	}
	if len(turns) > n {
		out.regions[RegionDefault] = append([]Turn(nil), turns[len(turns)-n:]...)
	}
	return out
}

// Region returns a copy of the named region's turns.
func (wm *WorkingMemory) Region(name string) []Turn {
	turns := wm.regions[name]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Flatten renders the memory as the linear turn sequence consumed by
// inference calls, honoring the fixed region priority.
func (wm *WorkingMemory) Flatten() []Turn {
	var out []Turn
	for _, name := range regionOrder {
		out = append(out, wm.regions[name]...)
	}
	return out
}

// Len is the flattened turn count across all regions.
func (wm *WorkingMemory) Len() int {
	n := 0
	for _, name := range regionOrder {
		n += len(wm.regions[name])
	}
	return n
}

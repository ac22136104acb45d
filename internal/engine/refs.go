package engine

import (
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"

	"github.com/webbridge/webbridge/internal/toolerr"
)

// retainedGenerations is how many past generations stay resolvable so a
// stale ref can be reported as stale rather than unknown.
const retainedGenerations = 8

type refEntry struct {
	backend    cdp.BackendNodeID
	generation uint64
	role       string
	name       string
}

// refTable maps snapshot refs to backend DOM nodes. Ref ids are never
// reused across generations, so a ref from an old snapshot is always
// distinguishable from one in the current tree.
type refTable struct {
	mu         sync.Mutex
	generation uint64
	nextID     int
	refs       map[string]refEntry
}

func newRefTable() *refTable {
	return &refTable{nextID: 1, refs: make(map[string]refEntry)}
}

// stage starts collecting refs for a snapshot in progress. Nothing becomes
// visible, and the generation does not advance, until commit: a failed or
// cancelled tree build must not invalidate the refs callers already hold.
func (t *refTable) stage() *refStaging {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &refStaging{table: t, nextID: t.nextID, generation: t.generation + 1}
}

type refStaging struct {
	table      *refTable
	nextID     int
	generation uint64
	entries    map[string]refEntry
}

// add assigns the next ref id to a backend node.
func (s *refStaging) add(backend cdp.BackendNodeID, role, name string) string {
	if s.entries == nil {
		s.entries = make(map[string]refEntry)
	}
	ref := fmt.Sprintf("e%d", s.nextID)
	s.nextID++
	s.entries[ref] = refEntry{backend: backend, generation: s.generation, role: role, name: name}
	return ref
}

// commit publishes the staged refs and advances the generation. Entries
// older than the retention window are pruned.
func (s *refStaging) commit() uint64 {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation = s.generation
	t.nextID = s.nextID
	for ref, entry := range s.entries {
		t.refs[ref] = entry
	}
	for ref, entry := range t.refs {
		if t.generation-entry.generation >= retainedGenerations {
			delete(t.refs, ref)
		}
	}
	return t.generation
}

// resolve returns the backend node for a ref from the current generation.
// Refs from older generations, and refs that were never issued, fail with
// StaleReference.
func (t *refTable) resolve(ref string) (refEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.refs[ref]
	if !ok {
		return refEntry{}, toolerr.New(toolerr.KindStaleReference,
			"ref %s is not in the current snapshot; run browser_snapshot to refresh refs", ref)
	}
	if entry.generation != t.generation {
		return refEntry{}, toolerr.New(toolerr.KindStaleReference,
			"ref %s is from snapshot generation %d, current is %d; run browser_snapshot to refresh refs",
			ref, entry.generation, t.generation)
	}
	return entry, nil
}

func (t *refTable) currentGeneration() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// Package engine adapts the Chrome DevTools Protocol to the bridge's
// engine-neutral contract: one browser process per session, ref-annotated
// accessibility snapshots, and deterministic input dispatch against refs
// from the current snapshot generation.
package engine

import (
	"context"
	"time"
)

// PageInfo describes the page after a completed navigation.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Box is element bounding geometry in document coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Node is one accessibility tree node. Interactive nodes carry a Ref that
// stays valid until the next snapshot of the same session.
type Node struct {
	Ref      string  `json:"ref,omitempty"`
	Role     string  `json:"role"`
	Name     string  `json:"name,omitempty"`
	Bounds   *Box    `json:"bounds,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Tree is a rooted accessibility snapshot. Generation increases by one per
// snapshot of a session; refs embedded in the tree belong to exactly this
// generation.
type Tree struct {
	Generation uint64 `json:"generation"`
	Root       *Node  `json:"root"`
	NodeCount  int    `json:"nodeCount"`
}

// InputKind selects the input action.
type InputKind string

const (
	InputClick InputKind = "click"
	InputType  InputKind = "type"
)

// InputAction is one engine-neutral input against a snapshot ref.
type InputAction struct {
	Kind   InputKind
	Text   string // typed text, InputType only
	Submit bool   // press Enter after typing
}

// Engine is the per-session browser engine handle. All methods translate
// engine faults into the toolerr taxonomy; implementations must never
// return a raw protocol error.
type Engine interface {
	// Navigate loads a URL and waits for a stable load state.
	Navigate(ctx context.Context, url string, timeout time.Duration) (*PageInfo, error)

	// Snapshot captures the accessibility tree and advances the
	// generation. All previously issued refs become stale.
	Snapshot(ctx context.Context) (*Tree, error)

	// Input dispatches a click or type action against a ref from the
	// current generation.
	Input(ctx context.Context, ref string, action InputAction) error

	// Screenshot captures the full page. Best-effort; raw requests
	// lossless output.
	Screenshot(ctx context.Context, raw bool) ([]byte, error)

	// Generation returns the current snapshot generation.
	Generation() uint64

	// Alive reports whether the engine process is still usable.
	Alive() bool

	// Close tears the engine down. Idempotent.
	Close() error
}

// LaunchOptions configures a new engine process.
type LaunchOptions struct {
	ProfileDir     string
	Headless       bool
	NoSandbox      bool
	ExecutablePath string // empty means auto-detect
}

// LaunchFunc starts an engine. The session manager holds one so tests can
// substitute a fake engine.
type LaunchFunc func(ctx context.Context, opts LaunchOptions) (Engine, error)

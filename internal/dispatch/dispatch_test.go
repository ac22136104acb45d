package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/webbridge/webbridge/internal/config"
	"github.com/webbridge/webbridge/internal/engine"
	"github.com/webbridge/webbridge/internal/session"
	"github.com/webbridge/webbridge/internal/toolerr"
)

// fakeEngine implements engine.Engine in-process. Navigate blocks until
// the context ends when blockNav is set, classifying the context error
// the way the real adapter does.
type fakeEngine struct {
	mu       sync.Mutex
	gen      uint64
	closed   bool
	blockNav bool

	inputs []string
}

func (f *fakeEngine) Navigate(ctx context.Context, url string, timeout time.Duration) (*engine.PageInfo, error) {
	if f.blockNav {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, toolerr.Wrap(toolerr.KindCanceled, ctx.Err(), "call canceled")
		}
		return nil, toolerr.Wrap(toolerr.KindNavigationTimeout, ctx.Err(), "deadline exceeded")
	}
	return &engine.PageInfo{URL: url, Title: "Fake Title"}, nil
}

func (f *fakeEngine) Snapshot(ctx context.Context) (*engine.Tree, error) {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()
	return &engine.Tree{
		Generation: gen,
		Root: &engine.Node{Role: "WebArea", Children: []*engine.Node{
			{Ref: "e1", Role: "button", Name: "Go"},
		}},
		NodeCount: 2,
	}, nil
}

func (f *fakeEngine) Input(ctx context.Context, ref string, action engine.InputAction) error {
	if ref != "e1" {
		return toolerr.New(toolerr.KindStaleReference, "ref %s is not in the current snapshot", ref)
	}
	f.mu.Lock()
	f.inputs = append(f.inputs, string(action.Kind)+":"+ref)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Screenshot(ctx context.Context, raw bool) ([]byte, error) {
	return []byte("imagebytes"), nil
}

func (f *fakeEngine) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeEngine) Alive() bool { return !f.closed }
func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

type harness struct {
	dispatcher *Dispatcher
	sessions   *session.Manager
	launches   *int
	eng        *fakeEngine
}

func newHarness(t *testing.T, eng *fakeEngine, timeout time.Duration) *harness {
	t.Helper()
	if eng == nil {
		eng = &fakeEngine{}
	}

	launches := 0
	launch := func(ctx context.Context, opts engine.LaunchOptions) (engine.Engine, error) {
		launches++
		return eng, nil
	}

	cfg := &config.Resolved{
		DataDir:     t.TempDir(),
		ProfileDir:  "auto",
		IdleTimeout: time.Minute,
		ReapTimeout: 2 * time.Minute,
		CallTimeout: timeout,
	}
	mgr := session.NewManager(cfg, launch)
	t.Cleanup(mgr.Shutdown)

	reg := NewRegistry(config.DefaultTools)
	return &harness{
		dispatcher: NewDispatcher(mgr, reg, nil, timeout),
		sessions:   mgr,
		launches:   &launches,
		eng:        eng,
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	_, err := h.dispatcher.Dispatch(context.Background(), Call{Tool: "browser_teleport"})
	if !toolerr.Is(err, toolerr.KindInvalidToolCall) {
		t.Errorf("unknown tool error = %v, want InvalidToolCall", err)
	}
	if *h.launches != 0 {
		t.Error("validation failure launched an engine")
	}
}

func TestDispatchDisabledTool(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	h.dispatcher.registry.SetAllowed([]string{ToolSnapshot})

	_, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolNavigate,
		Params: json.RawMessage(`{"url":"https://example.com"}`),
	})
	if !toolerr.Is(err, toolerr.KindInvalidToolCall) {
		t.Errorf("disabled tool error = %v, want InvalidToolCall", err)
	}
	if !strings.Contains(err.Error(), "disabled") {
		t.Errorf("error should say the tool is disabled: %v", err)
	}
}

func TestDispatchRejectsBadParams(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	cases := []Call{
		{Tool: ToolNavigate, Params: json.RawMessage(`{}`)},                                  // missing url
		{Tool: ToolNavigate, Params: json.RawMessage(`{"url":"x","bogus":true}`)},            // unknown field
		{Tool: ToolClick, Params: json.RawMessage(`{}`)},                                     // missing ref
		{Tool: ToolType, Params: json.RawMessage(`{"ref":"e1"}`)},                            // missing text
		{Tool: ToolType, Params: json.RawMessage(`{"ref":"e1","text":"hi","submit":"yes"}`)}, // wrong type
	}
	for _, call := range cases {
		if _, err := h.dispatcher.Dispatch(context.Background(), call); !toolerr.Is(err, toolerr.KindInvalidToolCall) {
			t.Errorf("%s %s: error = %v, want InvalidToolCall", call.Tool, call.Params, err)
		}
	}
	if *h.launches != 0 {
		t.Error("rejected calls had side effects")
	}
}

func TestDispatchUnknownSessionNoSideEffects(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	_, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolNavigate,
		Params: json.RawMessage(`{"url":"https://example.com","session":"ghost"}`),
	})
	if !toolerr.Is(err, toolerr.KindUnknownSession) {
		t.Errorf("error = %v, want UnknownSession", err)
	}
	if *h.launches != 0 {
		t.Error("unknown session call launched an engine")
	}
}

func TestDispatchDefaultSession(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	res, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolNavigate,
		Params: json.RawMessage(`{"url":"https://example.com"}`),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(res.Text, "https://example.com") || !strings.Contains(res.Text, "Fake Title") {
		t.Errorf("result text = %q", res.Text)
	}

	// Second call without a session reuses the lazily created default.
	if _, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolSnapshot,
		Params: json.RawMessage(`{}`),
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if *h.launches != 1 {
		t.Errorf("launches = %d, want 1 shared default session", *h.launches)
	}
}

func TestDispatchExplicitSession(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	sess, err := h.sessions.Create(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolClick,
		Params: json.RawMessage(`{"ref":"e1","element":"Go button","session":"` + sess.ID + `"}`),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(res.Text, "Go button") || !strings.Contains(res.Text, "e1") {
		t.Errorf("click result = %q", res.Text)
	}
	if len(h.eng.inputs) != 1 || h.eng.inputs[0] != "click:e1" {
		t.Errorf("engine inputs = %v", h.eng.inputs)
	}
}

func TestDispatchStaleRefPassesThrough(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	_, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolClick,
		Params: json.RawMessage(`{"ref":"e99"}`),
	})
	if !toolerr.Is(err, toolerr.KindStaleReference) {
		t.Errorf("stale ref error = %v, want StaleReference", err)
	}
}

func TestDispatchTypeSubmit(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	res, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolType,
		Params: json.RawMessage(`{"ref":"e1","text":"hello","submit":true}`),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(res.Text, "pressed Enter") {
		t.Errorf("submit not reflected in result: %q", res.Text)
	}
}

func TestDispatchScreenshotMIME(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	res, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolScreenshot,
		Params: json.RawMessage(`{"raw":true}`),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.MIME != "image/png" {
		t.Errorf("raw screenshot MIME = %q, want image/png", res.MIME)
	}
	if len(res.Image) == 0 {
		t.Error("no image bytes")
	}

	res, err = h.dispatcher.Dispatch(context.Background(), Call{Tool: ToolScreenshot})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.MIME != "image/jpeg" {
		t.Errorf("default screenshot MIME = %q, want image/jpeg", res.MIME)
	}
}

func TestDispatchCancelInFlight(t *testing.T) {
	h := newHarness(t, &fakeEngine{blockNav: true}, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := h.dispatcher.Dispatch(context.Background(), Call{
			RequestID: "req-1",
			Tool:      ToolNavigate,
			Params:    json.RawMessage(`{"url":"https://slow.example.com"}`),
		})
		done <- err
	}()

	// Wait for the call to appear in the pending set.
	deadline := time.After(2 * time.Second)
	for {
		if len(h.dispatcher.Pending()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("call never became pending")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := h.dispatcher.Cancel("req-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case err := <-done:
		if !toolerr.Is(err, toolerr.KindCanceled) {
			t.Errorf("canceled call error = %v, want Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled call never returned")
	}

	if len(h.dispatcher.Pending()) != 0 {
		t.Error("finished call still pending")
	}
}

func TestDispatchCancelUnknownRequest(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	if err := h.dispatcher.Cancel("no-such-request"); !toolerr.Is(err, toolerr.KindInvalidToolCall) {
		t.Errorf("Cancel(unknown) = %v, want InvalidToolCall", err)
	}
}

func TestDispatchTimeout(t *testing.T) {
	h := newHarness(t, &fakeEngine{blockNav: true}, 50*time.Millisecond)

	start := time.Now()
	_, err := h.dispatcher.Dispatch(context.Background(), Call{
		Tool:   ToolNavigate,
		Params: json.RawMessage(`{"url":"https://slow.example.com"}`),
	})
	if !toolerr.Is(err, toolerr.KindNavigationTimeout) && !toolerr.Is(err, toolerr.KindOperationTimeout) {
		t.Errorf("timeout error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

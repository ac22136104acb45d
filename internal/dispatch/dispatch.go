package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webbridge/webbridge/internal/engine"
	"github.com/webbridge/webbridge/internal/history"
	"github.com/webbridge/webbridge/internal/session"
	"github.com/webbridge/webbridge/internal/toolerr"
)

// Call is one inbound tool invocation.
type Call struct {
	RequestID string
	Tool      string
	Params    json.RawMessage
}

// Result is a successful tool outcome. Text is always set; Image carries
// screenshot bytes with their MIME type.
type Result struct {
	Text  string
	Image []byte
	MIME  string
}

// Dispatcher validates calls, resolves their session, and runs them with
// per-call timeout and cancellation by request id. Validation happens
// before any session is touched, so a rejected call has no side effects.
type Dispatcher struct {
	sessions *session.Manager
	registry *Registry
	hist     *history.Store
	timeout  time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// NewDispatcher builds a dispatcher. hist may be nil to disable history.
func NewDispatcher(sessions *session.Manager, registry *Registry, hist *history.Store, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		sessions: sessions,
		registry: registry,
		hist:     hist,
		timeout:  timeout,
		log:      slog.Default().With("component", "dispatch"),
		pending:  make(map[string]context.CancelFunc),
	}
}

// Dispatch runs one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*Result, error) {
	if call.RequestID == "" {
		call.RequestID = uuid.NewString()
	}

	start := time.Now()
	res, sessionID, err := d.dispatch(ctx, call)
	d.record(call, sessionID, start, err)

	if err != nil {
		d.log.Warn("tool call failed", "request", call.RequestID, "tool", call.Tool, "kind", toolerr.KindOf(err), "error", err)
		return nil, err
	}
	d.log.Info("tool call ok", "request", call.RequestID, "tool", call.Tool, "session", sessionID, "duration", time.Since(start))
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) (*Result, string, error) {
	if !d.registry.Known(call.Tool) {
		return nil, "", toolerr.New(toolerr.KindInvalidToolCall, "unknown tool %q", call.Tool)
	}
	if !d.registry.Enabled(call.Tool) {
		return nil, "", toolerr.New(toolerr.KindInvalidToolCall, "tool %q is disabled", call.Tool)
	}

	exec, sessionID, err := d.prepare(call)
	if err != nil {
		return nil, "", err
	}

	sess, err := d.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, sessionID, err
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.track(call.RequestID, cancel)
	defer d.untrack(call.RequestID)

	runCtx, tcancel := context.WithTimeout(callCtx, d.timeout)
	defer tcancel()

	var res *Result
	err = sess.Run(runCtx, func(eng engine.Engine) error {
		r, execErr := exec(runCtx, eng)
		res = r
		return execErr
	})

	// A deadline that fired while the call was still queued surfaces as a
	// cancellation from the semaphore wait; name it for what it is.
	if err != nil && toolerr.Is(err, toolerr.KindCanceled) &&
		runCtx.Err() == context.DeadlineExceeded && callCtx.Err() != context.Canceled {
		err = toolerr.Wrap(toolerr.KindOperationTimeout, err, "timed out waiting for session %s", sess.ID)
	}
	if err != nil {
		return nil, sess.ID, err
	}
	return res, sess.ID, nil
}

type executor func(ctx context.Context, eng engine.Engine) (*Result, error)

// prepare parses and validates the call's params, returning the executor
// to run and the explicit session id (empty means default session).
func (d *Dispatcher) prepare(call Call) (executor, string, error) {
	switch call.Tool {
	case ToolNavigate:
		var p struct {
			URL     string `json:"url"`
			Session string `json:"session"`
		}
		if err := decodeParams(call.Params, &p); err != nil {
			return nil, "", err
		}
		if p.URL == "" {
			return nil, "", toolerr.New(toolerr.KindInvalidToolCall, "%s: url is required", call.Tool)
		}
		return func(ctx context.Context, eng engine.Engine) (*Result, error) {
			info, err := eng.Navigate(ctx, p.URL, d.timeout)
			if err != nil {
				return nil, err
			}
			return &Result{Text: fmt.Sprintf("Navigated to %s\nTitle: %s\nRun browser_snapshot to see the page structure.", info.URL, info.Title)}, nil
		}, p.Session, nil

	case ToolSnapshot:
		var p struct {
			Session string `json:"session"`
		}
		if err := decodeParams(call.Params, &p); err != nil {
			return nil, "", err
		}
		return func(ctx context.Context, eng engine.Engine) (*Result, error) {
			tree, err := eng.Snapshot(ctx)
			if err != nil {
				return nil, err
			}
			return &Result{Text: engine.FormatTree(tree)}, nil
		}, p.Session, nil

	case ToolClick:
		var p struct {
			Ref     string `json:"ref"`
			Element string `json:"element"`
			Session string `json:"session"`
		}
		if err := decodeParams(call.Params, &p); err != nil {
			return nil, "", err
		}
		if p.Ref == "" {
			return nil, "", toolerr.New(toolerr.KindInvalidToolCall, "%s: ref is required", call.Tool)
		}
		return func(ctx context.Context, eng engine.Engine) (*Result, error) {
			if err := eng.Input(ctx, p.Ref, engine.InputAction{Kind: engine.InputClick}); err != nil {
				return nil, err
			}
			return &Result{Text: fmt.Sprintf("Clicked %s", describeTarget(p.Element, p.Ref))}, nil
		}, p.Session, nil

	case ToolType:
		var p struct {
			Ref     string `json:"ref"`
			Element string `json:"element"`
			Text    string `json:"text"`
			Submit  bool   `json:"submit"`
			Session string `json:"session"`
		}
		if err := decodeParams(call.Params, &p); err != nil {
			return nil, "", err
		}
		if p.Ref == "" {
			return nil, "", toolerr.New(toolerr.KindInvalidToolCall, "%s: ref is required", call.Tool)
		}
		if p.Text == "" {
			return nil, "", toolerr.New(toolerr.KindInvalidToolCall, "%s: text is required", call.Tool)
		}
		return func(ctx context.Context, eng engine.Engine) (*Result, error) {
			action := engine.InputAction{Kind: engine.InputType, Text: p.Text, Submit: p.Submit}
			if err := eng.Input(ctx, p.Ref, action); err != nil {
				return nil, err
			}
			msg := fmt.Sprintf("Typed %q into %s", p.Text, describeTarget(p.Element, p.Ref))
			if p.Submit {
				msg += " and pressed Enter"
			}
			return &Result{Text: msg}, nil
		}, p.Session, nil

	case ToolScreenshot:
		var p struct {
			Raw     bool   `json:"raw"`
			Session string `json:"session"`
		}
		if err := decodeParams(call.Params, &p); err != nil {
			return nil, "", err
		}
		return func(ctx context.Context, eng engine.Engine) (*Result, error) {
			data, err := eng.Screenshot(ctx, p.Raw)
			if err != nil {
				return nil, err
			}
			mime := "image/jpeg"
			if p.Raw {
				mime = "image/png"
			}
			return &Result{
				Text:  fmt.Sprintf("Captured screenshot (%d bytes)", len(data)),
				Image: data,
				MIME:  mime,
			}, nil
		}, p.Session, nil
	}

	return nil, "", toolerr.New(toolerr.KindInvalidToolCall, "unknown tool %q", call.Tool)
}

// Pending returns the request ids of in-flight calls.
func (d *Dispatcher) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	return ids
}

// Cancel aborts the in-flight call with the given request id.
func (d *Dispatcher) Cancel(requestID string) error {
	d.mu.Lock()
	cancel, ok := d.pending[requestID]
	d.mu.Unlock()
	if !ok {
		return toolerr.New(toolerr.KindInvalidToolCall, "no in-flight call with request id %q", requestID)
	}
	cancel()
	return nil
}

func (d *Dispatcher) resolveSession(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return d.sessions.Default(ctx)
	}
	return d.sessions.Get(id)
}

func (d *Dispatcher) track(requestID string, cancel context.CancelFunc) {
	d.mu.Lock()
	d.pending[requestID] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(requestID string) {
	d.mu.Lock()
	delete(d.pending, requestID)
	d.mu.Unlock()
}

func (d *Dispatcher) record(call Call, sessionID string, start time.Time, err error) {
	if d.hist == nil {
		return
	}
	rec := history.Record{
		RequestID: call.RequestID,
		SessionID: sessionID,
		Tool:      call.Tool,
		Params:    truncateParams(call.Params),
		Status:    "ok",
		Duration:  time.Since(start),
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorKind = string(toolerr.KindOf(err))
	}
	d.hist.Append(rec)
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return toolerr.Wrap(toolerr.KindInvalidToolCall, err, "invalid params")
	}
	return nil
}

func describeTarget(element, ref string) string {
	if element != "" {
		return fmt.Sprintf("%s [%s]", element, ref)
	}
	return ref
}

func truncateParams(raw json.RawMessage) string {
	const maxStored = 2048
	s := string(raw)
	if len(s) > maxStored {
		return s[:maxStored] + "..."
	}
	return s
}

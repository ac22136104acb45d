package engine

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/webbridge/webbridge/internal/toolerr"
)

const launchTimeout = 20 * time.Second

// ChromeEngine drives one Chrome process over CDP. One instance per
// session; the process owns its profile directory exclusively.
type ChromeEngine struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	refs  *refTable
	audit *auditLogger

	mu     sync.Mutex
	closed bool
}

// LaunchChrome starts a Chrome process with a dedicated profile directory.
// It is the production LaunchFunc.
func LaunchChrome(ctx context.Context, opts LaunchOptions) (Engine, error) {
	exe, err := FindExecutable(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.ProfileDir, 0o755); err != nil {
		return nil, toolerr.Wrap(toolerr.KindEngineLaunch, err, "create profile dir %s", opts.ProfileDir)
	}
	if err := probeWritable(opts.ProfileDir); err != nil {
		return nil, toolerr.Wrap(toolerr.KindEngineLaunch, err, "profile dir %s is not writable", opts.ProfileDir)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(exe.Path),
		chromedp.UserDataDir(opts.ProfileDir),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if opts.NoSandbox {
		allocOpts = append(allocOpts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	e := &ChromeEngine{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		refs:          newRefTable(),
		audit:         newAuditLogger(),
	}

	// Force the process to start now so launch failures surface here
	// instead of on the first tool call.
	startCtx, cancel := context.WithTimeout(browserCtx, launchTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		e.teardown()
		return nil, toolerr.Wrap(toolerr.KindEngineLaunch, err, "start %s", exe.Path)
	}

	e.audit.logOp("launch", "exe", string(exe.Kind), "profile", opts.ProfileDir, "headless", opts.Headless)
	return e, nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Navigate loads a URL and waits for the body to be ready.
func (e *ChromeEngine) Navigate(ctx context.Context, rawURL string, timeout time.Duration) (*PageInfo, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if !e.Alive() {
		return nil, toolerr.New(toolerr.KindEngineFatal, "engine is closed")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	runCtx, cancel := e.callContext(ctx, timeout)
	defer cancel()

	e.audit.logOp("navigate", "url", rawURL)

	var title, location string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Location(&location),
	)
	if err != nil {
		return nil, e.translateNavigate(ctx, runCtx, err)
	}

	return &PageInfo{URL: location, Title: title}, nil
}

// Snapshot captures the full accessibility tree, assigns fresh refs, and
// advances the generation. The generation only moves once the tree build
// has completed, so a failed capture leaves existing refs valid.
func (e *ChromeEngine) Snapshot(ctx context.Context) (*Tree, error) {
	if !e.Alive() {
		return nil, toolerr.New(toolerr.KindEngineFatal, "engine is closed")
	}

	runCtx, cancel := e.callContext(ctx, 30*time.Second)
	defer cancel()

	var axNodes []*accessibility.Node
	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(cctx context.Context) error {
			nodes, err := accessibility.GetFullAXTree().Do(cctx)
			if err != nil {
				return err
			}
			axNodes = nodes
			return nil
		}),
	)
	if err != nil {
		return nil, e.translateGeneric(ctx, runCtx, err, "snapshot")
	}

	staging := e.refs.stage()
	root, count := buildTree(axNodes, staging.add)
	generation := staging.commit()

	e.audit.logOp("snapshot", "generation", generation, "nodes", count)

	return &Tree{Generation: generation, Root: root, NodeCount: count}, nil
}

// Input dispatches a click or type action against a ref from the current
// snapshot generation.
func (e *ChromeEngine) Input(ctx context.Context, ref string, action InputAction) error {
	entry, err := e.refs.resolve(ref)
	if err != nil {
		return err
	}
	if !e.Alive() {
		return toolerr.New(toolerr.KindEngineFatal, "engine is closed")
	}

	runCtx, cancel := e.callContext(ctx, 30*time.Second)
	defer cancel()

	e.audit.logOp("input", "kind", string(action.Kind), "ref", ref, "role", entry.role)

	switch action.Kind {
	case InputClick:
		err = chromedp.Run(runCtx, chromedp.ActionFunc(func(cctx context.Context) error {
			return clickBackendNode(cctx, entry.backend)
		}))
	case InputType:
		err = chromedp.Run(runCtx, chromedp.ActionFunc(func(cctx context.Context) error {
			return typeBackendNode(cctx, entry.backend, action.Text, action.Submit)
		}))
	default:
		return toolerr.New(toolerr.KindInvalidToolCall, "unknown input kind %q", action.Kind)
	}

	if err != nil {
		return e.translateInput(ctx, runCtx, err)
	}
	return nil
}

// Screenshot captures the full page. raw requests lossless output.
func (e *ChromeEngine) Screenshot(ctx context.Context, raw bool) ([]byte, error) {
	if !e.Alive() {
		return nil, toolerr.New(toolerr.KindEngineFatal, "engine is closed")
	}

	runCtx, cancel := e.callContext(ctx, 30*time.Second)
	defer cancel()

	quality := 90
	if raw {
		quality = 100
	}

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, quality)); err != nil {
		return nil, e.translateGeneric(ctx, runCtx, err, "screenshot")
	}
	return buf, nil
}

func (e *ChromeEngine) Generation() uint64 {
	return e.refs.currentGeneration()
}

func (e *ChromeEngine) Alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.browserCtx.Err() == nil
}

// Close tears down the browser process. Idempotent.
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.audit.logOp("close")
	e.teardown()
	return nil
}

func (e *ChromeEngine) teardown() {
	e.browserCancel()
	e.allocCancel()
}

func (e *ChromeEngine) markDead() {
	e.mu.Lock()
	alreadyClosed := e.closed
	e.closed = true
	e.mu.Unlock()
	if !alreadyClosed {
		e.teardown()
	}
}

// callContext derives a run context from the browser context, bounded by
// timeout and cancelled when the caller's context is cancelled.
func (e *ChromeEngine) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(e.browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return toolerr.Wrap(toolerr.KindInvalidURL, err, "parse %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https", "about":
	default:
		return toolerr.New(toolerr.KindInvalidURL, "unsupported scheme %q in %q", u.Scheme, rawURL)
	}
	if u.Scheme != "about" && u.Host == "" {
		return toolerr.New(toolerr.KindInvalidURL, "missing host in %q", rawURL)
	}
	return nil
}

// clickBackendNode clicks the center of a backend node's content box.
func clickBackendNode(ctx context.Context, backend cdp.BackendNodeID) error {
	nodeIDs, err := dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{backend}).Do(ctx)
	if err != nil || len(nodeIDs) == 0 {
		return toolerr.Wrap(toolerr.KindElementNotInteractable, err, "element no longer in the DOM")
	}

	box, err := dom.GetBoxModel().WithNodeID(nodeIDs[0]).Do(ctx)
	if err != nil || box == nil || len(box.Content) < 8 {
		return toolerr.Wrap(toolerr.KindElementNotInteractable, err, "element has no clickable area")
	}

	x := (box.Content[0] + box.Content[2] + box.Content[4] + box.Content[6]) / 4
	y := (box.Content[1] + box.Content[3] + box.Content[5] + box.Content[7]) / 4
	return chromedp.MouseClickXY(x, y).Do(ctx)
}

// typeBackendNode focuses a backend node, replaces its content with text,
// and optionally presses Enter.
func typeBackendNode(ctx context.Context, backend cdp.BackendNodeID, text string, submit bool) error {
	nodeIDs, err := dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{backend}).Do(ctx)
	if err != nil || len(nodeIDs) == 0 {
		return toolerr.Wrap(toolerr.KindElementNotInteractable, err, "element no longer in the DOM")
	}

	if err := dom.Focus().WithNodeID(nodeIDs[0]).Do(ctx); err != nil {
		return toolerr.Wrap(toolerr.KindElementNotInteractable, err, "element cannot receive focus")
	}

	// Select existing content so the typed text replaces it.
	if err := chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)).Do(ctx); err != nil {
		return err
	}
	if err := chromedp.KeyEvent(text).Do(ctx); err != nil {
		return err
	}
	if submit {
		return chromedp.KeyEvent("\r").Do(ctx)
	}
	return nil
}

// Error translation. Engine faults are classified here; nothing below the
// taxonomy escapes this file.

func (e *ChromeEngine) translateNavigate(callerCtx, runCtx context.Context, err error) error {
	if classified := e.classifyCommon(callerCtx, runCtx, err, toolerr.KindNavigationTimeout); classified != nil {
		return classified
	}
	// Unreachable hosts, refused connections and friends come back as
	// net:: errors; the URL was well-formed but cannot be fetched.
	if strings.Contains(err.Error(), "net::") {
		return toolerr.Wrap(toolerr.KindInvalidURL, err, "page load failed")
	}
	return toolerr.Wrap(toolerr.KindNavigationTimeout, err, "navigation did not settle")
}

func (e *ChromeEngine) translateInput(callerCtx, runCtx context.Context, err error) error {
	if classified := e.classifyCommon(callerCtx, runCtx, err, toolerr.KindOperationTimeout); classified != nil {
		return classified
	}
	return toolerr.Wrap(toolerr.KindElementNotInteractable, err, "input dispatch failed")
}

func (e *ChromeEngine) translateGeneric(callerCtx, runCtx context.Context, err error, op string) error {
	if classified := e.classifyCommon(callerCtx, runCtx, err, toolerr.KindOperationTimeout); classified != nil {
		return classified
	}
	return toolerr.Wrap(toolerr.KindOperationTimeout, err, "%s failed", op)
}

// classifyCommon handles the cases shared by every operation: an already
// classified error, caller cancellation, deadline expiry, and a dead
// engine transport. Returns nil when the caller should apply its own
// fallback kind.
func (e *ChromeEngine) classifyCommon(callerCtx, runCtx context.Context, err error, timeoutKind toolerr.Kind) error {
	var te *toolerr.Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(callerCtx.Err(), context.Canceled) {
		return toolerr.Wrap(toolerr.KindCanceled, err, "call canceled")
	}
	if errors.Is(callerCtx.Err(), context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded {
		return toolerr.Wrap(timeoutKind, err, "deadline exceeded")
	}
	if e.browserCtx.Err() != nil || transportDead(err) {
		e.markDead()
		return toolerr.Wrap(toolerr.KindEngineFatal, err, "browser process lost")
	}
	return nil
}

func transportDead(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"websocket", "connection closed", "eof", "broken pipe", "browser closed", "context canceled"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}


package session

import (
	"context"
	"sync"
	"time"

	"github.com/webbridge/webbridge/internal/engine"
)

// fakeEngine satisfies engine.Engine without a browser.
type fakeEngine struct {
	mu     sync.Mutex
	closed bool
	gen    uint64

	navErr      error
	navigations []string
}

func (f *fakeEngine) Navigate(ctx context.Context, url string, timeout time.Duration) (*engine.PageInfo, error) {
	f.mu.Lock()
	f.navigations = append(f.navigations, url)
	f.mu.Unlock()
	if f.navErr != nil {
		return nil, f.navErr
	}
	return &engine.PageInfo{URL: url, Title: "fake"}, nil
}

func (f *fakeEngine) Snapshot(ctx context.Context) (*engine.Tree, error) {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()
	return &engine.Tree{Generation: gen, Root: &engine.Node{Role: "WebArea"}, NodeCount: 1}, nil
}

func (f *fakeEngine) Input(ctx context.Context, ref string, action engine.InputAction) error {
	return nil
}

func (f *fakeEngine) Screenshot(ctx context.Context, raw bool) ([]byte, error) {
	return []byte{0xff, 0xd8}, nil
}

func (f *fakeEngine) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeEngine) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeLaunch returns a LaunchFunc that records launches and hands out the
// given engines in order, or fresh fakes when exhausted.
func fakeLaunch(engines ...*fakeEngine) (engine.LaunchFunc, *[]engine.LaunchOptions) {
	var mu sync.Mutex
	var calls []engine.LaunchOptions
	i := 0
	fn := func(ctx context.Context, opts engine.LaunchOptions) (engine.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, opts)
		if i < len(engines) {
			e := engines[i]
			i++
			return e, nil
		}
		return &fakeEngine{}, nil
	}
	return fn, &calls
}

package studio

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"genpool/internal/browser"
)

// fakePage records actions and answers from configured state.
type fakePage struct {
	mu       sync.Mutex
	url      string
	visible  map[string]bool
	disabled map[string]bool
	counts   map[string]int
	clicks   []string
	fills    map[string]string
	uploads  [][]browser.File
	response []byte
	respErr  error
	fetched  []string
	fetch    map[string][]byte
	eval     any
	gotoErr  error
	probeErr error
	saved    int
	closed   bool
}

func newFakePage() *fakePage {
	return &fakePage{
		visible:  map[string]bool{},
		disabled: map[string]bool{},
		counts:   map[string]int{},
		fills:    map[string]string{},
		fetch:    map[string][]byte{},
		eval:     true,
	}
}

func (f *fakePage) Goto(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gotoErr != nil {
		return f.gotoErr
	}
	f.url = url
	return nil
}

func (f *fakePage) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakePage) Click(_ context.Context, sel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, sel)
	return nil
}

func (f *fakePage) ClickNth(_ context.Context, sel string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, sel+"#"+string(rune('0'+n)))
	return nil
}

func (f *fakePage) Fill(_ context.Context, sel, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills[sel] = v
	return nil
}

func (f *fakePage) Press(context.Context, string, string) error { return nil }

func (f *fakePage) WaitFor(context.Context, string, string) error { return nil }

func (f *fakePage) Visible(_ context.Context, sel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible[sel], nil
}

func (f *fakePage) Enabled(_ context.Context, sel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disabled[sel], nil
}

func (f *fakePage) Count(_ context.Context, sel string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[sel], nil
}

func (f *fakePage) SetInputFiles(_ context.Context, _ string, files []browser.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, files)
	return nil
}

func (f *fakePage) ExpectResponse(_ context.Context, _ *regexp.Regexp, action func() error) ([]byte, error) {
	if err := action(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response, f.respErr
}

func (f *fakePage) Evaluate(context.Context, string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eval, nil
}

func (f *fakePage) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	b, ok := f.fetch[url]
	if !ok {
		return nil, errors.New("404")
	}
	return b, nil
}

func (f *fakePage) Probe(context.Context) error { return f.probeErr }

func (f *fakePage) SaveCookies(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved++
	return nil
}

func (f *fakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePage) clicked(sel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clicks {
		if c == sel {
			return true
		}
	}
	return false
}

func openerFor(p *fakePage) Opener {
	return func(context.Context) (page, error) { return p, nil }
}

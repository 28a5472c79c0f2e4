package studio

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// holder owns the page of one client. Probe and Close may run while a
// task holds the page, so the pointer is guarded.
type holder struct {
	mu   sync.Mutex
	open Opener
	p    page
	log  zerolog.Logger
}

// ensure opens the page on first use.
func (h *holder) ensure(ctx context.Context) (page, error) {
	h.mu.Lock()
	p := h.p
	h.mu.Unlock()
	if p != nil {
		return p, nil
	}
	np, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.p != nil {
		// lost a race with a concurrent open
		_ = np.Close()
		return h.p, nil
	}
	h.p = np
	return np, nil
}

func (h *holder) current() (page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.p == nil {
		return nil, errNotInitialized
	}
	return h.p, nil
}

// Probe checks the page answers script evaluation.
func (h *holder) Probe(ctx context.Context) error {
	p, err := h.current()
	if err != nil {
		return err
	}
	return p.Probe(ctx)
}

// Close releases the page. Calling it twice is safe.
func (h *holder) Close() error {
	h.mu.Lock()
	p := h.p
	h.p = nil
	h.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

func (h *holder) saveCookies(ctx context.Context, p page) {
	if err := p.SaveCookies(ctx); err != nil {
		h.log.Warn().Err(err).Msg("save cookies")
	}
}

package studio

import (
	"context"
	"errors"
	"regexp"

	"genpool/internal/browser"
)

// page is the subset of a browser session the clients drive.
type page interface {
	Goto(ctx context.Context, url string) error
	URL() string
	Click(ctx context.Context, selector string) error
	ClickNth(ctx context.Context, selector string, n int) error
	Fill(ctx context.Context, selector, value string) error
	Press(ctx context.Context, selector, key string) error
	WaitFor(ctx context.Context, selector, state string) error
	Visible(ctx context.Context, selector string) (bool, error)
	Enabled(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
	SetInputFiles(ctx context.Context, selector string, files []browser.File) error
	ExpectResponse(ctx context.Context, pattern *regexp.Regexp, action func() error) ([]byte, error)
	Evaluate(ctx context.Context, expr string) (any, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
	Probe(ctx context.Context) error
	SaveCookies(ctx context.Context) error
	Close() error
}

var _ page = (*browser.Session)(nil)

// Opener opens a fresh page for an instance.
type Opener func(ctx context.Context) (page, error)

var errNotInitialized = errors.New("session not initialized")

// firstVisible returns the first selector that matches a visible element.
func firstVisible(ctx context.Context, p page, selectors ...string) (string, bool) {
	for _, sel := range selectors {
		if ok, err := p.Visible(ctx, sel); err == nil && ok {
			return sel, true
		}
	}
	return "", false
}

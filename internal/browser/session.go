package browser

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

// Session is one browser, context and page owned by a single instance.
type Session struct {
	Name      string
	CreatedAt time.Time

	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	jar     *CookieJar
	timeout time.Duration
	log     zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// File is an in-memory upload for a file input.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// timeoutMS returns the playwright timeout for ctx: the session default,
// shortened to the ctx deadline.
func (s *Session) timeoutMS(ctx context.Context) *float64 {
	d := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < d {
			d = rem
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	ms := float64(d.Milliseconds())
	return &ms
}

// Goto navigates and waits for DOMContentLoaded.
func (s *Session) Goto(ctx context.Context, url string) error {
	return run(ctx, func() error {
		waitUntil := playwright.WaitUntilState("domcontentloaded")
		if _, err := s.page.Goto(url, playwright.PageGotoOptions{WaitUntil: &waitUntil, Timeout: s.timeoutMS(ctx)}); err != nil {
			return fmt.Errorf("navigation failed: %w", err)
		}
		return nil
	})
}

// URL returns the current page URL.
func (s *Session) URL() string { return s.page.URL() }

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return run(ctx, func() error {
		if err := s.page.Click(selector, playwright.PageClickOptions{Timeout: s.timeoutMS(ctx)}); err != nil {
			return fmt.Errorf("click %s failed: %w", selector, err)
		}
		return nil
	})
}

// ClickNth clicks the n-th (0-based) element matching selector.
func (s *Session) ClickNth(ctx context.Context, selector string, n int) error {
	return run(ctx, func() error {
		if err := s.page.Locator(selector).Nth(n).Click(playwright.LocatorClickOptions{Timeout: s.timeoutMS(ctx)}); err != nil {
			return fmt.Errorf("click %s[%d] failed: %w", selector, n, err)
		}
		return nil
	})
}

// Fill replaces the value of an input element.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return run(ctx, func() error {
		if err := s.page.Fill(selector, value, playwright.PageFillOptions{Timeout: s.timeoutMS(ctx)}); err != nil {
			return fmt.Errorf("fill %s failed: %w", selector, err)
		}
		return nil
	})
}

// Press sends a key to the element matching selector.
func (s *Session) Press(ctx context.Context, selector, key string) error {
	return run(ctx, func() error {
		return s.page.Press(selector, key, playwright.PagePressOptions{Timeout: s.timeoutMS(ctx)})
	})
}

// WaitFor waits until selector reaches state (attached, detached, visible, hidden).
func (s *Session) WaitFor(ctx context.Context, selector, state string) error {
	return run(ctx, func() error {
		st := playwright.WaitForSelectorState(state)
		if _, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{State: &st, Timeout: s.timeoutMS(ctx)}); err != nil {
			return fmt.Errorf("wait for %s (%s) failed: %w", selector, state, err)
		}
		return nil
	})
}

// Visible reports whether selector currently matches a visible element.
func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := run(ctx, func() error {
		var err error
		ok, err = s.page.Locator(selector).First().IsVisible()
		return err
	})
	return ok, err
}

// Enabled reports whether the first element matching selector is enabled.
func (s *Session) Enabled(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := run(ctx, func() error {
		var err error
		ok, err = s.page.Locator(selector).First().IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: s.timeoutMS(ctx)})
		return err
	})
	return ok, err
}

// Count returns how many elements match selector.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := run(ctx, func() error {
		var err error
		n, err = s.page.Locator(selector).Count()
		return err
	})
	return n, err
}

// SetInputFiles attaches in-memory files to a file input.
func (s *Session) SetInputFiles(ctx context.Context, selector string, files []File) error {
	payload := make([]playwright.InputFile, 0, len(files))
	for _, f := range files {
		payload = append(payload, playwright.InputFile{Name: f.Name, MimeType: f.MimeType, Buffer: f.Data})
	}
	return run(ctx, func() error {
		if err := s.page.SetInputFiles(selector, payload, playwright.PageSetInputFilesOptions{Timeout: s.timeoutMS(ctx)}); err != nil {
			return fmt.Errorf("set input files on %s failed: %w", selector, err)
		}
		return nil
	})
}

// ExpectResponse runs action and waits for a response whose URL matches
// pattern, returning its body. ctx bounds the whole wait.
func (s *Session) ExpectResponse(ctx context.Context, pattern *regexp.Regexp, action func() error) ([]byte, error) {
	var body []byte
	err := run(ctx, func() error {
		resp, err := s.page.ExpectResponse(pattern, action, playwright.PageExpectResponseOptions{Timeout: s.timeoutUntil(ctx)})
		if err != nil {
			return fmt.Errorf("waiting for response %s: %w", pattern, err)
		}
		if st := resp.Status(); st >= 400 {
			return fmt.Errorf("response %s returned status %d", resp.URL(), st)
		}
		body, err = resp.Body()
		return err
	})
	return body, err
}

// timeoutUntil is the full remaining ctx budget, for waits that may exceed
// the per-action default. Zero disables the playwright timeout.
func (s *Session) timeoutUntil(ctx context.Context) *float64 {
	ms := 0.0
	if dl, ok := ctx.Deadline(); ok {
		ms = float64(time.Until(dl).Milliseconds())
		if ms < 1 {
			ms = 1
		}
	}
	return &ms
}

// Evaluate runs a JavaScript expression in the page.
func (s *Session) Evaluate(ctx context.Context, expr string) (any, error) {
	var out any
	err := run(ctx, func() error {
		var err error
		out, err = s.page.Evaluate(expr)
		return err
	})
	return out, err
}

// Fetch downloads url with the session's cookies.
func (s *Session) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := run(ctx, func() error {
		resp, err := s.bctx.Request().Get(url, playwright.APIRequestContextGetOptions{Timeout: s.timeoutMS(ctx)})
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Dispose()
		if !resp.Ok() {
			return fmt.Errorf("fetch %s: status %d", url, resp.Status())
		}
		body, err = resp.Body()
		return err
	})
	return body, err
}

// Probe checks that the page still answers script evaluation.
func (s *Session) Probe(ctx context.Context) error {
	v, err := s.Evaluate(ctx, "() => document.readyState")
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if state, _ := v.(string); state == "" {
		return fmt.Errorf("probe: unexpected readyState %v", v)
	}
	return nil
}

// SaveCookies writes the context cookies to the session's cookie file.
func (s *Session) SaveCookies(ctx context.Context) error {
	return run(ctx, func() error {
		cookies, err := s.bctx.Cookies()
		if err != nil {
			return fmt.Errorf("read cookies: %w", err)
		}
		return s.jar.Save(cookies)
	})
}

// Close saves cookies and releases the page, context and browser.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.SaveCookies(ctx); err != nil {
			s.log.Warn().Err(err).Msg("save cookies on close")
		}
		_ = s.page.Close()
		_ = s.bctx.Close()
		s.closeErr = s.browser.Close()
	})
	return s.closeErr
}

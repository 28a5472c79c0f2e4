package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Options fields are unset.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultViewportWidth  = 1440
	DefaultViewportHeight = 900
)

// Options configures the driver and every session it opens.
type Options struct {
	// Browser is chromium, firefox or webkit.
	Browser  string
	Headless bool
	// Install downloads the playwright driver and browsers before first use.
	Install bool
	// Timeout is the default per-action timeout.
	Timeout   time.Duration
	CookieDir string
	UserAgent string
	Viewport  Viewport
	Logger    *zerolog.Logger
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Driver owns the playwright runtime. It starts lazily on the first Open.
type Driver struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	opts    Options
	log     zerolog.Logger
	started bool
}

// NewDriver creates a driver; nothing is launched until Open.
func NewDriver(opts Options) *Driver {
	if opts.Browser == "" {
		opts.Browser = "chromium"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	d := &Driver{opts: opts, log: zerolog.Nop()}
	if opts.Logger != nil {
		d.log = *opts.Logger
	}
	return d
}

func (d *Driver) ensureStarted() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	// discard driver output so it does not interleave with our logs
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if d.opts.Browser != "chromium" {
		runOpts.Browsers = []string{d.opts.Browser}
	}
	if d.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	d.pw = pw
	d.started = true
	d.log.Info().Str("browser", d.opts.Browser).Bool("headless", d.opts.Headless).Msg("playwright started")
	return nil
}

func (d *Driver) browserType() (playwright.BrowserType, error) {
	switch d.opts.Browser {
	case "chromium":
		return d.pw.Chromium, nil
	case "firefox":
		return d.pw.Firefox, nil
	case "webkit":
		return d.pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unsupported browser %q", d.opts.Browser)
	}
}

// Open launches a browser for one instance and restores its cookies.
func (d *Driver) Open(ctx context.Context, service, instanceID string) (*Session, error) {
	if err := run(ctx, d.ensureStarted); err != nil {
		return nil, err
	}
	type opened struct {
		s   *Session
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		s, err := d.open(service, instanceID)
		ch <- opened{s: s, err: err}
	}()
	select {
	case o := <-ch:
		return o.s, o.err
	case <-ctx.Done():
		// a launch that completes late must not leak a browser
		go func() {
			if o := <-ch; o.s != nil {
				o.s.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *Driver) open(service, instanceID string) (*Session, error) {
	bt, err := d.browserType()
	if err != nil {
		return nil, err
	}
	headless := d.opts.Headless
	browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  d.opts.Viewport.Width,
			Height: d.opts.Viewport.Height,
		},
	}
	if d.opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(d.opts.UserAgent)
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	jar := NewCookieJar(d.opts.CookieDir, service, instanceID)
	cookies, err := jar.Load()
	if err != nil {
		d.log.Warn().Err(err).Str("instance_id", instanceID).Msg("load cookies")
	} else if len(cookies) > 0 {
		if err := bctx.AddCookies(cookies); err != nil {
			d.log.Warn().Err(err).Str("instance_id", instanceID).Msg("restore cookies")
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(d.opts.Timeout.Milliseconds()))

	return &Session{
		Name:      service + "_" + instanceID,
		browser:   browser,
		bctx:      bctx,
		page:      page,
		jar:       jar,
		timeout:   d.opts.Timeout,
		log:       d.log.With().Str("instance_id", instanceID).Logger(),
		CreatedAt: time.Now(),
	}, nil
}

// Stop shuts down the playwright runtime. Sessions should be closed first.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.pw == nil {
		return nil
	}
	d.started = false
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// run executes fn and returns when it finishes or ctx ends, whichever is
// first. fn keeps running after an early return.
func run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

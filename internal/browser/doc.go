// Package browser wraps playwright-go for the pool: one Driver per process
// owns the playwright runtime, and every instance opens its own Session with
// its own browser, context and page. Sessions persist their cookies to a
// per-instance file so a restarted instance keeps its login.
//
// Playwright calls do not take a context. Session methods run them on a
// separate goroutine and return as soon as ctx ends, leaving the call to
// finish in the background.
package browser

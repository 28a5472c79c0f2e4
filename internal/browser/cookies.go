package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/playwright-community/playwright-go"

	"genpool/internal/common/fsutil"
)

// CookieJar stores one instance's cookies as JSON.
type CookieJar struct {
	path string
}

// storedCookie is the on-disk cookie form, independent of playwright's types.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// CookiePath returns the cookie file of an instance:
// <dir>/<service>_<instance>_session.json.
func CookiePath(dir, service, instanceID string) string {
	return filepath.Join(dir, service+"_"+instanceID+"_session.json")
}

// NewCookieJar returns a jar for an instance. An empty dir disables persistence.
func NewCookieJar(dir, service, instanceID string) *CookieJar {
	if dir == "" {
		return &CookieJar{}
	}
	return &CookieJar{path: CookiePath(dir, service, instanceID)}
}

// Path is the backing file, or "" when persistence is disabled.
func (j *CookieJar) Path() string { return j.path }

// Load reads cookies ready for BrowserContext.AddCookies. A missing file
// yields no cookies.
func (j *CookieJar) Load() ([]playwright.OptionalCookie, error) {
	if j.path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored []storedCookie
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil, fmt.Errorf("decode %s: %w", j.path, err)
	}
	out := make([]playwright.OptionalCookie, 0, len(stored))
	for _, c := range stored {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		out = append(out, c.optional())
	}
	return out, nil
}

// Save replaces the cookie file.
func (j *CookieJar) Save(cookies []playwright.Cookie) error {
	if j.path == "" {
		return nil
	}
	stored := make([]storedCookie, 0, len(cookies))
	for _, c := range cookies {
		stored = append(stored, fromCookie(c))
	}
	b, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(j.path, b, 0o600)
}

func fromCookie(c playwright.Cookie) storedCookie {
	sc := storedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		HTTPOnly: c.HttpOnly,
		Secure:   c.Secure,
	}
	if c.SameSite != nil {
		sc.SameSite = string(*c.SameSite)
	}
	return sc
}

func (c storedCookie) optional() playwright.OptionalCookie {
	oc := playwright.OptionalCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   playwright.String(c.Domain),
		HttpOnly: playwright.Bool(c.HTTPOnly),
		Secure:   playwright.Bool(c.Secure),
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	oc.Path = playwright.String(path)
	// session cookies are stored with expires -1
	if c.Expires > 0 {
		oc.Expires = playwright.Float(c.Expires)
	}
	if c.SameSite != "" {
		ss := playwright.SameSiteAttribute(c.SameSite)
		oc.SameSite = &ss
	}
	return oc
}

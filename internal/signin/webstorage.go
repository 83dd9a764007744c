package signin

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/listenupapp/listenup-sync/internal/domain"
	"golang.org/x/net/publicsuffix"
)

// WebStorage is the session state of the external sign-in agent. SAML identity providers
// keep their session in cookies; a warm IdP session would sign the next user in silently.
type WebStorage struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

// NewWebStorage creates empty storage.
func NewWebStorage() (*WebStorage, error) {
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	return &WebStorage{jar: jar}, nil
}

func newJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// Jar returns a cookie jar view that survives Clear, for http.Clients used by agents.
func (w *WebStorage) Jar() http.CookieJar {
	return jarView{w}
}

// Cookies returns the cookies that would be sent to u.
func (w *WebStorage) Cookies(u *url.URL) []*http.Cookie {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.jar.Cookies(u)
}

// SetCookies stores cookies received from u.
func (w *WebStorage) SetCookies(u *url.URL, cookies []*http.Cookie) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	w.jar.SetCookies(u, cookies)
}

// Snapshot returns the cookies for u in their persisted form.
func (w *WebStorage) Snapshot(u *url.URL) []domain.Cookie {
	var out []domain.Cookie
	for _, c := range w.Cookies(u) {
		out = append(out, domain.CookieFromHTTP(c))
	}
	return out
}

// Restore puts persisted cookies back for u.
func (w *WebStorage) Restore(u *url.URL, cookies []domain.Cookie) {
	if len(cookies) == 0 {
		return
	}
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, c.HTTP())
	}
	w.SetCookies(u, httpCookies)
}

// Clear drops every cookie.
func (w *WebStorage) Clear() error {
	jar, err := newJar()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.jar = jar
	w.mu.Unlock()
	return nil
}

type jarView struct{ w *WebStorage }

func (v jarView) SetCookies(u *url.URL, cookies []*http.Cookie) { v.w.SetCookies(u, cookies) }
func (v jarView) Cookies(u *url.URL) []*http.Cookie             { return v.w.Cookies(u) }

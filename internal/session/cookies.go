package session

import (
	"net/http"
	"strings"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// CookieJar is the cookie surface the manager works against.
type CookieJar interface {
	Cookie(name string) (string, bool)
	SetCookie(c *http.Cookie)
}

type httpJar struct {
	w http.ResponseWriter
	r *http.Request
}

// HTTPJar reads cookies from r and writes them to w.
func HTTPJar(w http.ResponseWriter, r *http.Request) CookieJar {
	return httpJar{w: w, r: r}
}

func (j httpJar) Cookie(name string) (string, bool) {
	c, err := j.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (j httpJar) SetCookie(c *http.Cookie) {
	http.SetCookie(j.w, c)
}

// BearerToken returns the token of an "Authorization: Bearer" header, if any.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[len("bearer "):])
}

package auth

import (
	"net/http"
	"strings"
)

// PublicEndpoints is the allowlist shared by the gateway and every service.
var PublicEndpoints = Allowlist{
	Paths: []string{
		"/api/auth/login",
		"/api/auth/register",
		"/api/auth/send-code",
		"/api/auth/password/reset",
		"/health/live",
		"/health/ready",
		"/metrics",
	},
	Prefixes: []string{
		"/docs/",
		"/swagger/",
	},
}

// Allowlist holds exact paths and prefixes that skip authentication.
// CORS preflight requests are always public.
type Allowlist struct {
	Paths    []string
	Prefixes []string
}

// With returns a copy extended by extra paths and prefixes.
func (a Allowlist) With(paths, prefixes []string) Allowlist {
	out := Allowlist{
		Paths:    append(append([]string{}, a.Paths...), paths...),
		Prefixes: append(append([]string{}, a.Prefixes...), prefixes...),
	}
	return out
}

// Allows reports whether the request may pass without credentials.
func (a Allowlist) Allows(method, path string) bool {
	if method == http.MethodOptions {
		return true
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	for _, p := range a.Paths {
		if path == p {
			return true
		}
	}
	for _, prefix := range a.Prefixes {
		if strings.HasPrefix(path+"/", prefix) {
			return true
		}
	}
	return false
}

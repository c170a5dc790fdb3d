package browser

import (
	"net/url"
	"path"
	"strings"
)

// MatchRequest reports whether a request with the given method and URL
// satisfies an intercept rule.
//
// An empty method or "*" matches any method. A pattern starting with "/" is
// compared against the URL path; a pattern containing "://" is compared against
// the full URL. Patterns containing glob metacharacters use path.Match
// semantics, anything else must match exactly.
func MatchRequest(method, pattern, reqMethod, rawURL string) bool {
	if method != "" && method != "*" && !strings.EqualFold(method, reqMethod) {
		return false
	}
	if pattern == "" || pattern == "*" {
		return true
	}

	subject := rawURL
	if !strings.Contains(pattern, "://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return false
		}
		subject = u.Path
		if subject == "" {
			subject = "/"
		}
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return subject == pattern
	}
	ok, err := path.Match(pattern, subject)
	return err == nil && ok
}

// hijackPattern converts an intercept path into the URL wildcard understood by
// the CDP Fetch domain. Handlers re-check every request with MatchRequest.
func hijackPattern(p string) string {
	if p == "" || p == "*" {
		return "*"
	}
	if strings.Contains(p, "://") {
		return p
	}
	return "*" + p + "*"
}

// selectStub returns the first stub matching the request, in registration
// order.
func selectStub(stubs []Stub, reqMethod, rawURL string) (Stub, bool) {
	for _, s := range stubs {
		if MatchRequest(s.Method, s.Path, reqMethod, rawURL) {
			return s, true
		}
	}
	return Stub{}, false
}

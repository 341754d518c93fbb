package relay

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

var (
	errMissingOrigin = errors.New("missing origin")
	errNoAllowList   = errors.New("origin not allowed (empty allow-list)")
)

// checkOrigin applies the allow-list before the upgrade. An entry matches on
// the full origin or on the host alone; "*" allows everything.
func checkOrigin(r *http.Request, allowed []string, required bool) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if required {
			return errMissingOrigin
		}
		return nil
	}
	if len(allowed) == 0 {
		return errNoAllowList
	}

	host := originHost(origin)
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case a == "*", a == origin:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// originHost lowercases the host of "scheme://host[:port]" or "host[:port]".
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.ToLower(s)
}

// originPatterns turns the allow-list into websocket.AcceptOptions.OriginPatterns
// so the library's cross-origin check agrees with checkOrigin.
func originPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a == "*" {
			return []string{"*"}
		}
		if h := originHost(a); h != "" {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

package deployment

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateBaseURL checks a deployment api_base. Loopback, private and
// link-local hosts are refused unless allowPrivate is set.
func ValidateBaseURL(raw string, allowPrivate bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid api_base: %w", err)
	}

	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("api_base %q: scheme must be http or https", raw)
	case u.Hostname() == "":
		return fmt.Errorf("api_base %q: missing host", raw)
	case u.User != nil:
		return fmt.Errorf("api_base %q: userinfo not allowed", u.Redacted())
	case u.RawQuery != "" || u.Fragment != "":
		return fmt.Errorf("api_base %q: query and fragment not allowed", raw)
	}

	if !allowPrivate && internalHost(u.Hostname()) {
		return fmt.Errorf("api_base host %q is not publicly routable", u.Hostname())
	}
	return nil
}

func internalHost(host string) bool {
	h := strings.ToLower(host)
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsUnspecified() || !ip.IsGlobalUnicast()
}

package toolexec

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/errs"
)

// EnvAllowedDomains is the comma-separated host allow-list. Unset means no
// host enforcement, a dev-only posture; production deployments must set it.
const EnvAllowedDomains = "TOOL_ALLOWED_DOMAINS"

// hostnames that are never dialable regardless of the allow-list, unless
// explicitly listed.
var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

// URLChecker validates tool endpoint URLs before any dispatch.
type URLChecker struct {
	allowedSchemes map[string]bool
	allowedHosts   []string // exact hosts or "*.suffix" wildcards; empty disables host checks
}

// NewURLChecker builds a checker with the given host allow-list. Schemes
// default to https only.
func NewURLChecker(allowedHosts []string) *URLChecker {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &URLChecker{
		allowedSchemes: map[string]bool{"https": true},
		allowedHosts:   hosts,
	}
}

// NewURLCheckerFromEnv reads the allow-list from TOOL_ALLOWED_DOMAINS.
func NewURLCheckerFromEnv() *URLChecker {
	raw := os.Getenv(EnvAllowedDomains)
	if raw == "" {
		return NewURLChecker(nil)
	}
	return NewURLChecker(strings.Split(raw, ","))
}

// AllowScheme adds a scheme to the allow-list (e.g. "http" for dev).
func (c *URLChecker) AllowScheme(scheme string) {
	c.allowedSchemes[strings.ToLower(scheme)] = true
}

// Check validates the raw URL. Scheme must be allow-listed, the host must
// match the host allow-list when one is configured, and loopback/private
// addresses are rejected unless explicitly listed.
func (c *URLChecker) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errs.NewValidationError("endpointConfig.url", fmt.Sprintf("unparsable URL: %v", err))
	}

	scheme := strings.ToLower(u.Scheme)
	if !c.allowedSchemes[scheme] {
		return errs.NewValidationError("endpointConfig.url",
			fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return errs.NewValidationError("endpointConfig.url", "URL has no host")
	}

	if c.hostAllowed(host) {
		return nil
	}
	if len(c.allowedHosts) > 0 {
		return errs.NewValidationError("endpointConfig.url",
			fmt.Sprintf("host %q is not in the allow-list", host))
	}

	// No allow-list configured: still refuse obviously internal targets.
	if isBlockedHost(host) {
		return errs.NewValidationError("endpointConfig.url",
			fmt.Sprintf("host %q resolves to a private or local address", host))
	}
	return nil
}

// hostAllowed matches exact entries and "*.suffix" wildcards. A wildcard
// matches subdomains only, not the bare suffix.
func (c *URLChecker) hostAllowed(host string) bool {
	for _, allowed := range c.allowedHosts {
		if strings.HasPrefix(allowed, "*.") {
			if strings.HasSuffix(host, allowed[1:]) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return host
}

func isBlockedHost(host string) bool {
	if host == "localhost" {
		return true
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified()
	}
	return false
}

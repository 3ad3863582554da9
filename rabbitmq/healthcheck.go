package rabbitmq

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Health check policy errors.
var (
	// ErrInsecureHealthCheck is returned when basic-auth credentials would be
	// sent over plain http without explicit opt-in.
	ErrInsecureHealthCheck = errors.New("rabbitmq health check would send credentials over insecure http — set AllowInsecureHealthCheck to acknowledge this risk")
	// ErrHealthCheckAllowedHostsRequired is returned when the policy demands
	// an explicit host allowlist and none is configured.
	ErrHealthCheckAllowedHostsRequired = errors.New("rabbitmq health check requires an allowed hosts list")
	// ErrHealthCheckHostNotAllowed is returned when the health check URL's
	// host is not in the allowlist.
	ErrHealthCheckHostNotAllowed = errors.New("rabbitmq health check host is not allowed")
)

// healthCheckURLConfig is the policy snapshot applied when validating a
// health check URL. It is captured once per check so concurrent mutation of
// the connection cannot change the policy mid-request.
type healthCheckURLConfig struct {
	allowInsecure       bool
	hasBasicAuth        bool
	requireAllowedHosts bool
	allowedHosts        []string
	derivedAllowedHosts []string
}

const healthCheckPath = "/api/health/checks/alarms"

// validateHealthCheckURL validates with an empty policy: scheme, host, and
// credential checks only.
func validateHealthCheckURL(rawURL string) (string, error) {
	return validateHealthCheckURLWithConfig(rawURL, healthCheckURLConfig{})
}

// validateHealthCheckURLWithConfig validates the health check URL against
// the SSRF/credential policy and appends the RabbitMQ health endpoint path
// if not already present. The HealthCheckURL should be the management API
// base URL (e.g. "http://host:15672"), not the full health endpoint.
func validateHealthCheckURLWithConfig(rawURL string, cfg healthCheckURLConfig) (string, error) {
	healthURL := strings.TrimSpace(rawURL)
	if healthURL == "" {
		return "", errors.New("rabbitmq health check URL is empty")
	}

	parsedURL, err := url.Parse(healthURL)
	if err != nil {
		return "", err
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", errors.New("rabbitmq health check URL must use http or https")
	}

	if parsedURL.Host == "" {
		return "", errors.New("rabbitmq health check URL must include a host")
	}

	if parsedURL.User != nil {
		return "", errors.New("rabbitmq health check URL must not include user credentials")
	}

	if cfg.hasBasicAuth && parsedURL.Scheme == "http" && !cfg.allowInsecure {
		return "", ErrInsecureHealthCheck
	}

	if cfg.requireAllowedHosts && len(cfg.allowedHosts) == 0 {
		return "", ErrHealthCheckAllowedHostsRequired
	}

	allowlist := cfg.allowedHosts
	if len(allowlist) == 0 && cfg.hasBasicAuth && !cfg.requireAllowedHosts {
		allowlist = cfg.derivedAllowedHosts
	}

	if len(allowlist) > 0 {
		if !isHostAllowed(parsedURL.Host, allowlist) {
			return "", ErrHealthCheckHostNotAllowed
		}
	} else if cfg.hasBasicAuth && !cfg.allowInsecure {
		// Credentials with no way to bound the target host: refuse unless
		// the operator explicitly accepted the risk.
		return "", ErrHealthCheckAllowedHostsRequired
	}

	normalized := strings.TrimSuffix(parsedURL.String(), "/")
	if strings.HasSuffix(normalized, healthCheckPath) {
		return normalized, nil
	}

	return normalized + healthCheckPath, nil
}

// isHostAllowed reports whether candidate (host or host:port) matches any
// allowlist entry. Entries may be host names, host:port pairs, IPs
// (IPv4-mapped IPv6 forms normalize), or CIDR ranges.
func isHostAllowed(candidate string, allowed []string) bool {
	candidateHost := candidate
	if host, _, err := net.SplitHostPort(candidate); err == nil {
		candidateHost = host
	}

	candidateIP := net.ParseIP(candidateHost)

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if _, network, err := net.ParseCIDR(entry); err == nil {
			if candidateIP != nil && network.Contains(candidateIP) {
				return true
			}

			continue
		}

		if entryIP := net.ParseIP(entry); entryIP != nil {
			if candidateIP != nil && entryIP.Equal(candidateIP) {
				return true
			}

			continue
		}

		if strings.Contains(entry, ":") {
			if entry == candidate {
				return true
			}

			continue
		}

		if entry == candidateHost {
			return true
		}
	}

	return false
}

// deriveAllowedHostsFromConnectionString derives allowlist entries (host and
// host:port) from the AMQP connection string, so the management API host is
// implicitly trusted alongside the broker host.
func deriveAllowedHostsFromConnectionString(connectionString string) []string {
	parsedURL, err := url.Parse(strings.TrimSpace(connectionString))
	if err != nil || parsedURL.Host == "" {
		return nil
	}

	hosts := []string{parsedURL.Host}
	if host, _, splitErr := net.SplitHostPort(parsedURL.Host); splitErr == nil && host != "" {
		hosts = append(hosts, host)
	}

	return hosts
}

// amqpURLTokenPattern matches whitespace-delimited tokens that may carry an
// AMQP URL with embedded credentials.
var amqpURLTokenPattern = regexp.MustCompile(`\S+`)

// redactURLCredentials replaces the password of every AMQP URL found in
// message with a placeholder, leaving the rest of the message intact.
func redactURLCredentials(message string) string {
	if !strings.Contains(message, "amqp://") && !strings.Contains(message, "amqps://") {
		return message
	}

	return amqpURLTokenPattern.ReplaceAllStringFunc(message, func(token string) string {
		if !strings.Contains(token, "amqp://") && !strings.Contains(token, "amqps://") {
			return token
		}

		return redactURLCredentialsFallback(token)
	})
}

// redactURLCredentialsFallback redacts the password inside one token. The
// userinfo normally ends at the last "@" before the path or query; when the
// password itself contains "/", the authority cannot be delimited that way,
// so the scan widens to the whole token unless the pre-slash segment already
// reads as host:port.
func redactURLCredentialsFallback(token string) string {
	schemeIdx := strings.Index(token, "amqps://")
	schemeLen := len("amqps://")

	if schemeIdx == -1 {
		schemeIdx = strings.Index(token, "amqp://")
		schemeLen = len("amqp://")
	}

	if schemeIdx == -1 {
		return token
	}

	authorityStart := schemeIdx + schemeLen

	pathStart := len(token)
	for _, delimiter := range []string{"/", "?"} {
		if idx := strings.Index(token[authorityStart:], delimiter); idx != -1 && authorityStart+idx < pathStart {
			pathStart = authorityStart + idx
		}
	}

	authorityEnd := pathStart

	segment := token[authorityStart:pathStart]
	if !strings.Contains(segment, "@") {
		colonIdx := strings.Index(segment, ":")
		if colonIdx == -1 {
			return token
		}

		if isDigits(segment[colonIdx+1:]) {
			// host:port followed by a path; nothing before the path can be
			// a credential.
			return token
		}

		// The ":" is the start of a password containing "/"; widen the
		// authority to the whole token.
		authorityEnd = len(token)
	}

	authority := token[authorityStart:authorityEnd]

	atIdx := strings.LastIndex(authority, "@")
	if atIdx == -1 {
		return token
	}

	userinfo := authority[:atIdx]

	colonIdx := strings.Index(userinfo, ":")
	if colonIdx == -1 {
		return token
	}

	redacted := userinfo[:colonIdx] + ":xxxxx"

	return token[:authorityStart] + redacted + token[authorityStart+atIdx:]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, character := range s {
		if character < '0' || character > '9' {
			return false
		}
	}

	return true
}

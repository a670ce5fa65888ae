// Package validation checks URLs and addresses before they are saved to a
// profile or used to send mail.
//
// Endpoints on loopback, private or link-local addresses are refused unless
// OD_ALLOW_PRIVATE is true (or SetAllowPrivate is called). Cloud metadata
// hosts are refused either way. Host names are not resolved, so login works
// offline.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
)

// EnvAllowPrivate permits private and loopback endpoints.
const EnvAllowPrivate = "OD_ALLOW_PRIVATE"

// MaxURLLength bounds stored endpoint URLs.
const MaxURLLength = 2048

var allowPrivate atomic.Bool

func init() {
	v, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvAllowPrivate)))
	allowPrivate.Store(v)
}

// SetAllowPrivate overrides OD_ALLOW_PRIVATE and returns a restore func.
func SetAllowPrivate(enabled bool) func() {
	prev := allowPrivate.Swap(enabled)
	return func() { allowPrivate.Store(prev) }
}

var metadataHosts = []string{
	"169.254.169.254",
	"fd00:ec2::254",
	"metadata",
	"metadata.google.internal",
	"instance-data",
}

// Endpoint validates rawURL. Without schemes, http and https are accepted.
func Endpoint(rawURL string, schemes ...string) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("URL exceeds %d characters", MaxURLLength)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	if !slices.Contains(schemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("unsupported scheme %q (want %s)", u.Scheme, strings.Join(schemes, ", "))
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("URL must contain a host")
	}
	if slices.Contains(metadataHosts, host) || strings.HasSuffix(host, ".metadata.google.internal") {
		return fmt.Errorf("cloud metadata endpoints are not allowed")
	}

	private := allowPrivate.Load()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		if !private {
			return fmt.Errorf("localhost URLs are not allowed (set %s=1 for local development)", EnvAllowPrivate)
		}
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip, private)
	}
	return nil
}

func checkIP(ip net.IP, private bool) error {
	switch {
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address %s is not allowed", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address %s is not allowed", ip)
	case private:
		return nil
	case ip.IsLoopback(), ip.IsPrivate():
		return fmt.Errorf("private address %s is not allowed (set %s=1 for local development)", ip, EnvAllowPrivate)
	}
	return nil
}

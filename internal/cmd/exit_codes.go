package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/pflag"

	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/notify"
	"github.com/orderdesk/orderdesk-cli/internal/realtime"
	"github.com/orderdesk/orderdesk-cli/internal/resolve"
	"github.com/orderdesk/orderdesk-cli/internal/snapshot"
	"github.com/orderdesk/orderdesk-cli/internal/store"
)

const (
	exitOK          = 0
	exitGeneric     = 1
	exitUsage       = 2
	exitAuth        = 3
	exitNotFound    = 4
	exitForbidden   = 5
	exitRateLimited = 6
	exitServer      = 7
	exitNetwork     = 8
	exitSuppressed  = 9
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	var handled *handledError
	if errors.As(err, &handled) {
		if handled.exitCode != 0 {
			return handled.exitCode
		}
		err = handled.err
	}

	if code := exitCodeFromTyped(err); code != 0 {
		return code
	}
	if isUsageError(err) {
		return exitUsage
	}
	if isNetworkError(err) {
		return exitNetwork
	}
	return exitGeneric
}

func exitCodeFromTyped(err error) int {
	var apiErr *snapshot.APIError
	var notFound *resolve.NotFoundError
	var ambiguous *resolve.AmbiguousError

	switch {
	case errors.Is(err, config.ErrNotConfigured):
		return exitAuth
	case errors.Is(err, notify.ErrCoolingDown):
		return exitRateLimited
	case errors.Is(err, notify.ErrRecipientOnline):
		return exitSuppressed
	case errors.As(err, &notFound), errors.Is(err, store.ErrNotFound):
		return exitNotFound
	case errors.As(err, &ambiguous), errors.Is(err, resolve.ErrEmptyQuery),
		errors.Is(err, snapshot.ErrInvalidSource), errors.Is(err, store.ErrUnknownBackend):
		return exitUsage
	case errors.Is(err, realtime.ErrReadTimeout):
		return exitNetwork
	case errors.As(err, &apiErr):
		return exitCodeForStatus(apiErr.StatusCode)
	}
	return 0
}

func exitCodeForStatus(status int) int {
	switch {
	case status == http.StatusUnauthorized:
		return exitAuth
	case status == http.StatusForbidden:
		return exitForbidden
	case status == http.StatusNotFound:
		return exitNotFound
	case status == http.StatusTooManyRequests:
		return exitRateLimited
	case status >= 500:
		return exitServer
	case status >= 400:
		return exitUsage
	}
	return 0
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "certificate") ||
		strings.Contains(msg, "i/o timeout")
}

func isUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"accepts ",
		"requires at least",
		"requires exactly",
		"invalid argument",
		"invalid value",
		"must be",
		"is required",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

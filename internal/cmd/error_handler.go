package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/notify"
	"github.com/orderdesk/orderdesk-cli/internal/realtime"
	"github.com/orderdesk/orderdesk-cli/internal/resolve"
	"github.com/orderdesk/orderdesk-cli/internal/snapshot"
)

// HandleError processes an error and returns a user-friendly message with suggestions
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder
	var apiErr *snapshot.APIError
	var cooling *notify.CooldownError
	var ambiguous *resolve.AmbiguousError
	var notFound *resolve.NotFoundError

	switch {
	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("No credentials configured.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: od auth login\n")
		msg.WriteString("  - Or export OD_REALTIME_URL, OD_API_KEY and OD_USER_ID\n")

	case errors.As(err, &cooling):
		fmt.Fprintf(&msg, "Conversation %s was notified recently.\n\n", cooling.ConversationID)
		msg.WriteString("Suggestions:\n")
		fmt.Fprintf(&msg, "  - Try again in %d min\n", cooling.MinutesLeft)
		msg.WriteString("  - Use --force to send anyway\n")

	case errors.Is(err, notify.ErrRecipientOnline):
		msg.WriteString("Recipient is online; no e-mail sent.\n")

	case errors.As(err, &ambiguous):
		fmt.Fprintf(&msg, "Error: %s\n\n", ambiguous.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Pass more of the conversation id\n")

	case errors.As(err, &notFound):
		fmt.Fprintf(&msg, "Error: %s\n\n", notFound.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - List known conversations: od unread list\n")

	case errors.As(err, &apiErr):
		fmt.Fprintf(&msg, "Snapshot API error (HTTP %d): %s\n\n", apiErr.StatusCode, apiErr.Body)
		msg.WriteString(suggestionsForStatusCode(apiErr.StatusCode))
		if apiErr.RequestID != "" {
			fmt.Fprintf(&msg, "\nRequest ID: %s\n", apiErr.RequestID)
		}

	case errors.Is(err, realtime.ErrReadTimeout):
		msg.WriteString("Realtime connection went silent.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check your network connection\n")
		msg.WriteString("  - Raise realtime.read_timeout in the settings file\n")

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check that the backend is reachable\n")
		msg.WriteString("  - Verify the URL: od auth status\n")

	case strings.Contains(err.Error(), "no such host"):
		msg.WriteString("DNS resolution failed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the realtime URL spelling: od auth status\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}

	return msg.String()
}

func suggestionsForStatusCode(code int) string {
	var suggestions strings.Builder
	suggestions.WriteString("Suggestions:\n")

	switch {
	case code == 401:
		suggestions.WriteString("  - Your snapshot token may be invalid or expired\n")
		suggestions.WriteString("  - Run: od auth login --snapshot-token ...\n")
	case code == 403:
		suggestions.WriteString("  - Your account cannot read this snapshot\n")
	case code == 404:
		suggestions.WriteString("  - Check snapshot.orders_url and snapshot.tickets_url\n")
	case code == 429:
		suggestions.WriteString("  - Wait and retry in a few seconds\n")
	case code >= 500:
		suggestions.WriteString("  - Server error, wait and retry\n")
	default:
		suggestions.WriteString("  - Use --debug for more details\n")
	}

	return suggestions.String()
}

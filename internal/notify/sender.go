// Package notify sends offline e-mail notifications for waiting conversation
// messages, throttled by the cooldown tracker.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/resend/resend-go/v3"
)

// Message is one notification e-mail.
type Message struct {
	To             string
	ConversationID string
	Ticket         bool // support ticket rather than order chat
	Waiting        int
	Link           string
}

// Subject returns the e-mail subject line.
func (m Message) Subject() string {
	if m.Waiting == 1 {
		return "You have a new message on orderdesk"
	}
	if m.Waiting > 1 {
		return fmt.Sprintf("You have %d new messages on orderdesk", m.Waiting)
	}
	return "You have new messages on orderdesk"
}

// Sender delivers a notification.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// emailAPI is the part of the Resend client the sender uses.
type emailAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender sends notifications through the Resend API.
type ResendSender struct {
	emails    emailAPI
	fromEmail string
	appURL    string
}

// NewResendSender creates a sender. fromEmail must belong to a domain verified
// in Resend; appURL is used to build conversation links.
func NewResendSender(apiKey, fromEmail, appURL string) *ResendSender {
	client := resend.NewClient(apiKey)
	return &ResendSender{
		emails:    client.Emails,
		fromEmail: fromEmail,
		appURL:    strings.TrimRight(appURL, "/"),
	}
}

// ConversationLink returns the web link for an order chat or a ticket, or ""
// without an app URL.
func (s *ResendSender) ConversationLink(conversationID string, ticket bool) string {
	if s.appURL == "" {
		return ""
	}
	section := "orders"
	if ticket {
		section = "tickets"
	}
	return fmt.Sprintf("%s/%s/%s", s.appURL, section, conversationID)
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("notification for %s has no recipient", msg.ConversationID)
	}
	if msg.Link == "" {
		msg.Link = s.ConversationLink(msg.ConversationID, msg.Ticket)
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("orderdesk <%s>", s.fromEmail),
		To:      []string{msg.To},
		Subject: msg.Subject(),
		Html:    renderHTML(msg),
		Text:    renderText(msg),
	}
	if _, err := s.emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}
	return nil
}

func renderText(msg Message) string {
	var b strings.Builder
	b.WriteString(msg.Subject())
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Conversation: %s\n", msg.ConversationID)
	if msg.Link != "" {
		fmt.Fprintf(&b, "Open it here: %s\n", msg.Link)
	}
	return b.String()
}

func renderHTML(msg Message) string {
	link := ""
	if msg.Link != "" {
		l := html.EscapeString(msg.Link)
		link = fmt.Sprintf(`<p style="margin:0 0 16px 0;"><a href="%s" style="color:#2563eb;">Open the conversation</a></p>`, l)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:24px;font-family:Arial,Helvetica,sans-serif;color:#1f2937;">
  <h2 style="font-size:18px;margin:0 0 16px 0;">%s</h2>
  <p style="font-size:15px;margin:0 0 16px 0;">Conversation <strong>%s</strong> has messages waiting for you.</p>
  %s
</body>
</html>`, html.EscapeString(msg.Subject()), html.EscapeString(msg.ConversationID), link)
}

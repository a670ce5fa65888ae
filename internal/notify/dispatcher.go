package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orderdesk/orderdesk-cli/internal/cooldown"
)

// DefaultSendTimeout bounds one background send.
const DefaultSendTimeout = 30 * time.Second

var (
	// ErrRecipientOnline means the recipient is connected and sees messages live.
	ErrRecipientOnline = errors.New("recipient is online")
	// ErrCoolingDown means a notification was sent inside the cooldown window.
	ErrCoolingDown = errors.New("notification cooldown active")
)

// CooldownError carries the time left in the window.
type CooldownError struct {
	ConversationID string
	MinutesLeft    int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("conversation %s was notified recently; next notification in %d min", e.ConversationID, e.MinutesLeft)
}

func (e *CooldownError) Unwrap() error { return ErrCoolingDown }

// Cooldowns is the part of the cooldown tracker the dispatcher needs.
type Cooldowns interface {
	CanNotifyNow(conversationID string) bool
	MinutesUntilNextNotification(conversationID string) int
	MessagesSinceLastNotification(conversationID string) int
	RecordNotification(conversationID, actorID string)
}

// Request asks for one notification.
type Request struct {
	ConversationID string
	Ticket         bool
	RecipientID    string
	To             string
	Actor          string
	Force          bool
}

// Result reports an accepted request.
type Result struct {
	ConversationID string `json:"conversation_id"`
	To             string `json:"to"`
	Waiting        int    `json:"messages_waiting"`
	Forced         bool   `json:"forced,omitempty"`
}

// Dispatcher checks presence and cooldown, records the notification, then
// sends in the background.
type Dispatcher struct {
	sender    Sender
	cooldowns Cooldowns
	presence  cooldown.PresenceReader
	logger    *slog.Logger
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewDispatcher wires a dispatcher. presence may be nil.
func NewDispatcher(sender Sender, cooldowns Cooldowns, presence cooldown.PresenceReader, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:    sender,
		cooldowns: cooldowns,
		presence:  presence,
		logger:    logger.With("component", "notify"),
		timeout:   DefaultSendTimeout,
	}
}

// Send validates the request and starts delivery. The cooldown is recorded
// before delivery; a failed delivery is logged and the cooldown stands.
func (d *Dispatcher) Send(ctx context.Context, req Request) (Result, error) {
	if req.ConversationID == "" {
		return Result{}, errors.New("conversation id is required")
	}
	if req.To == "" {
		return Result{}, errors.New("recipient e-mail is required")
	}
	if d.presence != nil && req.RecipientID != "" && d.presence.IsOnline(req.RecipientID) {
		return Result{}, ErrRecipientOnline
	}
	if !req.Force && !d.cooldowns.CanNotifyNow(req.ConversationID) {
		return Result{}, &CooldownError{
			ConversationID: req.ConversationID,
			MinutesLeft:    d.cooldowns.MinutesUntilNextNotification(req.ConversationID),
		}
	}

	waiting := d.cooldowns.MessagesSinceLastNotification(req.ConversationID)
	d.cooldowns.RecordNotification(req.ConversationID, req.Actor)

	msg := Message{To: req.To, ConversationID: req.ConversationID, Ticket: req.Ticket, Waiting: waiting}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.sender.Send(sendCtx, msg); err != nil {
			d.logger.Warn("notification delivery failed", "conversation", msg.ConversationID, "error", err)
			return
		}
		d.logger.Debug("notification sent", "conversation", msg.ConversationID)
	}()

	return Result{ConversationID: req.ConversationID, To: req.To, Waiting: waiting, Forced: req.Force}, nil
}

// Wait blocks until background sends finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

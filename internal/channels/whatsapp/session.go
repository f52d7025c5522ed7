// Package whatsapp supervises the WhatsApp connection for the gateway:
// connect, reconnect, QR pairing, and the inbound sender filter.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/roelfdiedericks/wacodex/internal/dedup"
	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

// DefaultReconnectDelay is the fixed wait before reconnecting
const DefaultReconnectDelay = 5 * time.Second

// Connection states
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateOpen         = "open"
	StateStopped      = "stopped"
	StateLoggedOut    = "logged_out"
	StateReplaced     = "replaced"
)

// ErrNotConnected is returned by SendText before the first connection attempt.
var ErrNotConnected = errors.New("whatsapp: not connected")

// ErrStopped is returned when connecting after Stop or a terminal event.
var ErrStopped = errors.New("whatsapp: session stopped")

// MessageHandler receives authorized direct-chat text.
type MessageHandler func(ctx context.Context, replyTo, text string)

// client is the part of *whatsmeow.Client the session drives.
type client interface {
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	Connect() error
	Disconnect()
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	GenerateMessageID() types.MessageID
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// SessionConfig holds session settings
type SessionConfig struct {
	AuthorizedNumber string        // phone number (digits) or LID allowed to talk to the gateway
	ReconnectDelay   time.Duration // fixed delay before a reconnect attempt
	QROutput         io.Writer     // QR codes are drawn here when it is a terminal
}

// Session owns the connection lifecycle. Every attempt gets a new client
// and a new epoch; events from older epochs are ignored.
type Session struct {
	config    SessionConfig
	newClient func() (client, bool) // fresh client and whether the device is paired
	dedup     *dedup.Registry
	handler   MessageHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	epoch    uint64
	state    string
	current  client
	terminal bool

	reconnecting atomic.Bool
}

// NewSession creates a session bound to device. Sent message IDs are
// recorded in reg so their echoes are skipped.
func NewSession(cfg SessionConfig, device *store.Device, reg *dedup.Registry, handler MessageHandler) *Session {
	s := newSession(cfg, reg, handler)
	s.newClient = func() (client, bool) {
		c := whatsmeow.NewClient(device, newLogger("client"))
		// Reconnects are handled here, per epoch
		c.EnableAutoReconnect = false
		return c, device.ID != nil
	}
	return s
}

func newSession(cfg SessionConfig, reg *dedup.Registry, handler MessageHandler) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.QROutput == nil {
		cfg.QROutput = os.Stdout
	}
	if reg == nil {
		reg = dedup.New(dedup.DefaultTTL)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		config:  cfg,
		dedup:   reg,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
	}
}

// SetHandler replaces the inbound message handler.
func (s *Session) SetHandler(h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start makes the first connection attempt. Failures are retried in the
// background; the returned error is informational.
func (s *Session) Start() error {
	return s.connect()
}

// State returns the connection state
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected && s.reconnecting.Load() {
		return StateDisconnected + " (reconnect scheduled)"
	}
	return s.state
}

// Epoch returns the current connection epoch
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Done is closed once the session has stopped for good.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Stop disconnects and suppresses further reconnects.
func (s *Session) Stop() {
	s.finish(StateStopped)
}

func (s *Session) connect() error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return ErrStopped
	}
	s.epoch++
	epoch := s.epoch
	prev := s.current
	c, paired := s.newClient()
	s.current = c
	s.state = StateConnecting
	s.mu.Unlock()

	if prev != nil {
		prev.Disconnect()
	}

	c.AddEventHandler(func(evt any) {
		s.dispatch(epoch, evt)
	})

	if !paired {
		qrChan, err := c.GetQRChannel(s.ctx)
		if err != nil {
			L_error("whatsapp: QR channel unavailable", "epoch", epoch, "error", err)
		} else {
			go s.consumeQR(epoch, qrChan)
		}
	}

	L_info("whatsapp: connecting", "epoch", epoch, "paired", paired)
	if err := c.Connect(); err != nil {
		L_warn("whatsapp: connect failed", "epoch", epoch, "error", err)
		s.scheduleReconnect(epoch, "connect failed")
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	return nil
}

// isCurrent reports whether epoch is still the live one.
func (s *Session) isCurrent(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch == s.epoch && !s.terminal
}

func (s *Session) setState(epoch uint64, state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.terminal {
		return false
	}
	s.state = state
	return true
}

// dispatch handles one whatsmeow event bound to epoch.
func (s *Session) dispatch(epoch uint64, evt any) {
	if !s.isCurrent(epoch) {
		L_trace("whatsapp: dropping stale event", "epoch", epoch, "type", fmt.Sprintf("%T", evt))
		return
	}

	switch v := evt.(type) {
	case *events.Message:
		s.handleMessage(v)

	case *events.Connected:
		if s.setState(epoch, StateOpen) {
			L_info("whatsapp: connected", "epoch", epoch)
		}

	case *events.Disconnected:
		L_warn("whatsapp: disconnected", "epoch", epoch)
		s.scheduleReconnect(epoch, "disconnected")

	case *events.KeepAliveTimeout:
		L_warn("whatsapp: keep-alive timeout", "epoch", epoch, "errors", v.ErrorCount)
		if v.ErrorCount >= 3 {
			s.scheduleReconnect(epoch, "keep-alive failed")
		}

	case *events.ConnectFailure:
		if permanentFailure(v.Reason) {
			L_error("whatsapp: permanent connect failure", "reason", v.Reason.String(), "message", v.Message)
			s.finish(StateLoggedOut)
			return
		}
		L_warn("whatsapp: connect failure", "reason", v.Reason, "message", v.Message)
		s.scheduleReconnect(epoch, "connect failure")

	case *events.LoggedOut:
		L_error("whatsapp: logged out, run 'wacodex unlink' and pair again", "reason", v.Reason)
		s.finish(StateLoggedOut)

	case *events.StreamReplaced:
		L_error("whatsapp: another client connected with this identity, not reconnecting")
		s.finish(StateReplaced)
	}
}

// permanentFailure reports connect failures that retrying cannot fix.
func permanentFailure(reason events.ConnectFailureReason) bool {
	return reason.IsLoggedOut() ||
		reason == events.ConnectFailureTempBanned ||
		reason == events.ConnectFailureClientOutdated
}

// scheduleReconnect reconnects after the fixed delay. Only one reconnect
// may be pending at a time.
func (s *Session) scheduleReconnect(epoch uint64, reason string) {
	if !s.setState(epoch, StateDisconnected) {
		return
	}
	if !s.reconnecting.CompareAndSwap(false, true) {
		L_debug("whatsapp: reconnect already scheduled", "reason", reason)
		return
	}

	delay := s.config.ReconnectDelay
	L_info("whatsapp: reconnect scheduled", "epoch", epoch, "reason", reason, "delay", delay)

	go func() {
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			s.reconnecting.Store(false)
			return
		}
		// Release first so a failing attempt can schedule the next one
		s.reconnecting.Store(false)
		if !s.isCurrent(epoch) {
			return
		}
		_ = s.connect()
	}()
}

// finish makes the session terminal with the given state.
func (s *Session) finish(state string) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.terminal = true
	s.state = state
	c := s.current
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		c.Disconnect()
	}
	L_info("whatsapp: session ended", "state", state)
}

// SendText formats text for WhatsApp and sends it to `to`. The message ID
// is registered before sending so its echo is always recognized.
func (s *Session) SendText(ctx context.Context, to, text string) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}

	id := c.GenerateMessageID()
	s.dedup.Remember(id)

	_, err = c.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(FormatMessage(text)),
	}, whatsmeow.SendRequestExtra{ID: id})
	if err != nil {
		return fmt.Errorf("whatsapp: send to %s: %w", jid, err)
	}
	L_trace("whatsapp: sent", "to", jid.String(), "id", id, "len", len(text))
	return nil
}

// ParseRecipient accepts a full JID or a bare phone number.
func ParseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, errors.New("whatsapp: empty recipient")
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("whatsapp: bad recipient %q: %w", to, err)
		}
		return jid, nil
	}
	return phoneToJID(NormalizeNumber(to)), nil
}

// phoneToJID converts a phone number string to a WhatsApp JID
func phoneToJID(phone string) types.JID {
	return types.NewJID(phone, types.DefaultUserServer)
}

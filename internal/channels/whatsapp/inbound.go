package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

// NormalizeNumber keeps only the digits of a phone number.
func NormalizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// handleMessage filters an inbound message and hands its text to the
// handler. Order: own-echo check, chat type, sender identity, owner chat.
func (s *Session) handleMessage(evt *events.Message) {
	info := evt.Info

	if s.dedup.Consume(info.ID) {
		L_trace("whatsapp: skipping own message echo", "id", info.ID)
		return
	}

	if !isDirectChat(info.Chat) || info.IsGroup {
		L_trace("whatsapp: ignoring non-direct chat", "chat", info.Chat.String())
		return
	}

	if !s.authorized(info.Sender, info.SenderAlt) {
		L_warn("whatsapp: message from unauthorized sender ignored",
			"sender", info.Sender.User, "senderAlt", info.SenderAlt.User)
		return
	}

	// On the owner's own account, their chats with other people carry the
	// owner as sender too; only the owner's own conversation is accepted.
	if !s.ownerChat(info.MessageSource) {
		L_debug("whatsapp: ignoring owner message in another chat", "chat", info.Chat.String(), "fromMe", info.IsFromMe)
		return
	}

	text := messageText(evt.Message)
	if strings.TrimSpace(text) == "" {
		L_debug("whatsapp: unsupported or empty message, ignoring", "id", info.ID)
		return
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}

	L_debug("whatsapp: authorized message", "id", info.ID, "chat", info.Chat.String(), "len", len(text))
	handler(s.ctx, info.Chat.String(), text)
}

// authorized accepts the configured identity by phone number or LID.
// WhatsApp may address the sender either way, with the other in SenderAlt.
func (s *Session) authorized(sender, alt types.JID) bool {
	want := NormalizeNumber(s.config.AuthorizedNumber)
	if want == "" {
		return false
	}
	return sender.User == want || (alt.User != "" && alt.User == want)
}

// ownerChat reports whether the chat is the conversation with the
// authorized identity itself, addressed by the sender's JID, the phone
// number, or the alternate recipient address.
func (s *Session) ownerChat(src types.MessageSource) bool {
	want := NormalizeNumber(s.config.AuthorizedNumber)
	if src.Chat.User == "" {
		return false
	}
	return src.Chat.User == src.Sender.User ||
		src.Chat.User == want ||
		(src.RecipientAlt.User != "" && src.RecipientAlt.User == want)
}

func isDirectChat(chat types.JID) bool {
	switch chat.Server {
	case types.DefaultUserServer, types.HiddenUserServer:
		return true
	default:
		// groups, broadcast lists, status, newsletters
		return false
	}
}

// messageText extracts plain or extended text.
func messageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"time"
)

// Chat event type tags.
const (
	ChatNewMessage    = "new_message"
	ChatEditMessage   = "edit_message"
	ChatDeleteMessage = "delete_message"
	ChatTyping        = "typing"
	ChatReadReceipt   = "read_receipt"
	ChatReaction      = "reaction"
	ChatPresence      = "presence"
	ChatSystem        = "system"
)

// MessageType discriminates the mutually exclusive message payloads.
type MessageType string

// Message payload types.
const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
	MessagePoll  MessageType = "poll"
	MessageEvent MessageType = "event"
)

// MediaAttachment describes an uploaded media payload.
type MediaAttachment struct {
	URL             string `json:"url"`
	MimeType        string `json:"mime_type"`
	SizeBytes       int64  `json:"size_bytes,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// PollOption is one choice in a poll message.
type PollOption struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Votes []string `json:"votes,omitempty"` // member ids
}

// Poll is the payload of a poll message.
type Poll struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
	ClosesAt *time.Time   `json:"closes_at,omitempty"`
}

// EventInfo is the payload of a community-event message.
type EventInfo struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	Location string    `json:"location,omitempty"`
}

// Receipt records one member having read a message.
type Receipt struct {
	MemberID string    `json:"member_id"`
	ReadAt   time.Time `json:"read_at"`
}

// Message is a chat message as delivered on a channel topic. Exactly one of
// Text/Media/Poll/Event is set, selected by Type. Messages are immutable
// once delivered; edits and deletes arrive as separate envelopes referencing
// the id.
type Message struct {
	ID        string              `json:"id"`
	Channel   string              `json:"channel"` // canonical channel topic
	SenderID  string              `json:"sender_id"`
	Type      MessageType         `json:"message_type"`
	Text      string              `json:"text,omitempty"`
	Media     *MediaAttachment    `json:"media,omitempty"`
	Poll      *Poll               `json:"poll,omitempty"`
	Event     *EventInfo          `json:"event,omitempty"`
	ReplyTo   string              `json:"reply_to,omitempty"` // id reference, not ownership
	Reactions map[string][]string `json:"reactions,omitempty"`
	ReadBy    []Receipt           `json:"read_by,omitempty"`
	SentAt    time.Time           `json:"sent_at"`
}

// ChatEvent is the closed variant set delivered by the chat dispatcher.
type ChatEvent interface {
	// EventType returns the envelope type tag for this variant.
	EventType() string
}

// NewMessageEvent carries a freshly published message.
type NewMessageEvent struct {
	Message Message `json:"message"`
}

// EditMessageEvent rewrites the text of an existing message.
type EditMessageEvent struct {
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	EditedAt  time.Time `json:"edited_at"`
}

// DeleteMessageEvent soft-deletes a message, leaving a tombstone under the
// original id.
type DeleteMessageEvent struct {
	MessageID string    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// TypingEvent is the best-effort typing indicator.
type TypingEvent struct {
	MemberID string `json:"member_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptEvent marks a message read by a member.
type ReadReceiptEvent struct {
	MessageID string    `json:"message_id"`
	MemberID  string    `json:"member_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ReactionEvent adds or removes one reaction on a message.
type ReactionEvent struct {
	MessageID string `json:"message_id"`
	MemberID  string `json:"member_id"`
	Key       string `json:"key"` // reaction key, e.g. "amen", "heart"
	Added     bool   `json:"added"`
}

// PresenceEvent is a member's online state. It is also the last-will payload
// the broker publishes on an unclean disconnect.
type PresenceEvent struct {
	MemberID   string    `json:"member_id"`
	IsOnline   bool      `json:"is_online"`
	LastSeen   time.Time `json:"last_seen"`
	ActiveRoom string    `json:"active_room,omitempty"`
}

// SystemEvent is a server-originated notice rendered inline in a channel.
type SystemEvent struct {
	Text string `json:"text"`
	Kind string `json:"kind,omitempty"` // e.g. "member_joined", "channel_renamed"
}

func (e NewMessageEvent) EventType() string    { return ChatNewMessage }
func (e EditMessageEvent) EventType() string   { return ChatEditMessage }
func (e DeleteMessageEvent) EventType() string { return ChatDeleteMessage }
func (e TypingEvent) EventType() string        { return ChatTyping }
func (e ReadReceiptEvent) EventType() string   { return ChatReadReceipt }
func (e ReactionEvent) EventType() string      { return ChatReaction }
func (e PresenceEvent) EventType() string      { return ChatPresence }
func (e SystemEvent) EventType() string        { return ChatSystem }

// NewChatEnvelope wraps a chat event in an envelope ready to publish.
func NewChatEnvelope(senderID string, ev ChatEvent) (*Envelope, error) {
	return NewEnvelope(ev.EventType(), senderID, ev)
}

func decodeEvent[T ChatEvent](e *Envelope) (ChatEvent, error) {
	var ev T
	if err := e.decodeInto(&ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeChatEvent selects and decodes the chat event variant named by the
// envelope type. Only the fields present in the envelope are applied;
// nothing is inferred.
func DecodeChatEvent(e *Envelope) (ChatEvent, error) {
	switch e.Type {
	case ChatNewMessage:
		return decodeEvent[NewMessageEvent](e)
	case ChatEditMessage:
		return decodeEvent[EditMessageEvent](e)
	case ChatDeleteMessage:
		return decodeEvent[DeleteMessageEvent](e)
	case ChatTyping:
		return decodeEvent[TypingEvent](e)
	case ChatReadReceipt:
		return decodeEvent[ReadReceiptEvent](e)
	case ChatReaction:
		return decodeEvent[ReactionEvent](e)
	case ChatPresence:
		return decodeEvent[PresenceEvent](e)
	case ChatSystem:
		return decodeEvent[SystemEvent](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeChat         MessageType = "chat_message"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// DefaultNotificationType is used when a notification names no kind.
const DefaultNotificationType = "info"

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEmptyMessage     = errors.New("empty message")
)

// Inbound is a decoded client event. ChatMessage is the only variant.
type Inbound interface {
	inbound()
}

type ChatMessage struct {
	Text string
}

func (ChatMessage) inbound() {}

type inboundWire struct {
	Type    MessageType `json:"type"`
	Message *string     `json:"message"`
}

// DecodeInbound parses one client frame. Errors wrap ErrMalformedPayload,
// ErrUnknownEventType or ErrEmptyMessage.
func DecodeInbound(data []byte) (Inbound, error) {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch w.Type {
	case "", MessageTypeChat:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, w.Type)
	}

	if w.Message == nil {
		return nil, fmt.Errorf("%w: missing \"message\"", ErrMalformedPayload)
	}
	if strings.TrimSpace(*w.Message) == "" {
		return nil, ErrEmptyMessage
	}
	return ChatMessage{Text: *w.Message}, nil
}

// Outbound is an event the server pushes to a client.
type Outbound interface {
	Encode() ([]byte, error)
}

// ChatEvent is built once per accepted message and fanned out unchanged.
type ChatEvent struct {
	Room      string
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time
	History   bool
}

type chatWire struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	UserID   int64  `json:"user_id"`
	History  bool   `json:"history,omitempty"`
}

func (e ChatEvent) Encode() ([]byte, error) {
	return json.Marshal(chatWire{
		Message:  e.Text,
		Username: e.Username,
		UserID:   e.UserID,
		History:  e.History,
	})
}

// NotificationEvent is addressed to every connection of UserID.
type NotificationEvent struct {
	UserID           int64  `json:"-"`
	Type             string `json:"type"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
}

func NewNotification(userID int64, message, kind string) NotificationEvent {
	if kind == "" {
		kind = DefaultNotificationType
	}
	return NotificationEvent{
		UserID:           userID,
		Type:             string(MessageTypeNotification),
		Message:          message,
		NotificationType: kind,
	}
}

func (e NotificationEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: string(MessageTypeError), Error: message}
}

func (e ErrorEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

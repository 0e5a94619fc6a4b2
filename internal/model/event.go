package model

import (
	"time"
)

// EventType is the wire-level name of a ChatEvent.
type EventType string

const (
	EventReceiveMessage         EventType = "ReceiveMessage"
	EventUserTyping             EventType = "UserTyping"
	EventUserJoined             EventType = "UserJoined"
	EventUserLeft               EventType = "UserLeft"
	EventConnectionStateChanged EventType = "ConnectionStateChanged"
)

// MessageType classifies a ReceiveMessage event.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeBot    MessageType = "bot"
	MessageTypeSystem MessageType = "system"
	MessageTypeError  MessageType = "error"
)

// ConnectionState is carried by ConnectionStateChanged.
type ConnectionState string

const (
	StateConnected    ConnectionState = "Connected"
	StateReconnecting ConnectionState = "Reconnecting"
	StateDisconnected ConnectionState = "Disconnected"
	StateError        ConnectionState = "Error"
)

// ChatEvent is the tagged union broadcast to real-time clients. Only the
// fields belonging to Type are populated.
type ChatEvent struct {
	Type EventType `json:"type"`

	// ReceiveMessage
	User        string      `json:"user,omitempty"`
	Content     string      `json:"content,omitempty"`
	MessageType MessageType `json:"messageType,omitempty"`

	// UserTyping, UserJoined, UserLeft
	ConnectionID string `json:"connectionId,omitempty"`
	IsTyping     *bool  `json:"isTyping,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`

	// ConnectionStateChanged
	State ConnectionState `json:"state,omitempty"`

	// Origin is the connection that caused the event; empty for server events.
	Origin    string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReceiveMessage builds a ReceiveMessage event.
func NewReceiveMessage(origin, user, content string, kind MessageType) ChatEvent {
	return ChatEvent{
		Type:        EventReceiveMessage,
		User:        user,
		Content:     content,
		MessageType: kind,
		Origin:      origin,
		Timestamp:   time.Now().UTC(),
	}
}

// NewUserTyping builds a UserTyping event.
func NewUserTyping(connectionID string, isTyping bool) ChatEvent {
	return ChatEvent{
		Type:         EventUserTyping,
		ConnectionID: connectionID,
		IsTyping:     &isTyping,
		Origin:       connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// NewUserJoined builds a UserJoined event.
func NewUserJoined(connectionID, displayName string) ChatEvent {
	return ChatEvent{
		Type:         EventUserJoined,
		ConnectionID: connectionID,
		DisplayName:  displayName,
		Origin:       connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// NewUserLeft builds a UserLeft event.
func NewUserLeft(connectionID string) ChatEvent {
	return ChatEvent{
		Type:         EventUserLeft,
		ConnectionID: connectionID,
		Origin:       connectionID,
		Timestamp:    time.Now().UTC(),
	}
}

// NewConnectionStateChanged builds a ConnectionStateChanged event.
func NewConnectionStateChanged(state ConnectionState) ChatEvent {
	return ChatEvent{
		Type:      EventConnectionStateChanged,
		State:     state,
		Timestamp: time.Now().UTC(),
	}
}

// ChatSession is the hub's record of one connected client.
type ChatSession struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Typing       bool      `json:"isTyping"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// ClientFrame is a message sent by a real-time client.
type ClientFrame struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsTyping    bool   `json:"isTyping,omitempty"`
}

// Client frame types.
const (
	FrameSendMessage = "sendMessage"
	FrameJoinChat    = "joinChat"
	FrameSendTyping  = "sendTyping"
)

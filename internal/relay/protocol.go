package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/zulandar/ledgerline/internal/models"
)

// Inbound message types.
const (
	TypeJoinSession     = "JOIN_SESSION"
	TypeLeaveSession    = "LEAVE_SESSION"
	TypeTextMessage     = "TEXT_MESSAGE"
	TypeAudioMessage    = "AUDIO_MESSAGE"
	TypeTypingIndicator = "TYPING_INDICATOR"
)

// Outbound message types. TYPING_INDICATOR is relayed under its inbound name.
const (
	TypeConnectionEstablished = "CONNECTION_ESTABLISHED"
	TypeSessionJoined         = "SESSION_JOINED"
	TypeUserJoined            = "USER_JOINED"
	TypeUserLeft              = "USER_LEFT"
	TypeNewMessage            = "NEW_MESSAGE"
	TypeAudioReceived         = "AUDIO_RECEIVED"
	TypeNewAudioMessage       = "NEW_AUDIO_MESSAGE"
	TypeError                 = "ERROR"
)

// Close codes sent to clients.
const (
	CloseConnectionError = 4000
	CloseAuthRequired    = 4001
	CloseInvalidToken    = 4003
)

// SessionID accepts a session id encoded as a JSON number or string.
type SessionID uint

func (s *SessionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		b = []byte(str)
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %s", b)
	}
	*s = SessionID(n)
	return nil
}

// envelope is decoded first to route by type.
type envelope struct {
	Type string `json:"type"`
}

type sessionRequest struct {
	SessionID SessionID `json:"sessionId"`
}

type textRequest struct {
	SessionID      SessionID `json:"sessionId"`
	Content        string    `json:"content"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
}

type audioRequest struct {
	SessionID      SessionID `json:"sessionId"`
	AudioData      string    `json:"audioData"` // base64, optionally a data: URL
	MimeType       string    `json:"mimeType"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
}

type typingRequest struct {
	SessionID SessionID `json:"sessionId"`
	IsTyping  bool      `json:"isTyping"`
}

type connectionEstablished struct {
	Type         string `json:"type"`
	UserID       uint   `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Sessions     []uint `json:"sessions"` // sessions already joined
}

type sessionJoined struct {
	Type     string                       `json:"type"`
	Session  models.ConversationSession   `json:"session"`
	Messages []models.ConversationMessage `json:"messages"`
}

type participantEvent struct {
	Type      string `json:"type"`
	SessionID uint   `json:"sessionId"`
	UserID    uint   `json:"userId"`
}

type messageEvent struct {
	Type    string                     `json:"type"`
	Message models.ConversationMessage `json:"message"`
}

type audioReceived struct {
	Type      string `json:"type"`
	SessionID uint   `json:"sessionId"`
	UserID    uint   `json:"userId"`
	AudioPath string `json:"audioPath"`
}

type typingEvent struct {
	Type      string `json:"type"`
	SessionID uint   `json:"sessionId"`
	UserID    uint   `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

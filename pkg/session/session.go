// Package session persists conversation history as one JSONL file per
// session. The first line is a self-describing session record; each
// following line is one message record. Line order is the source of truth
// for conversation order, so the durable form is forward-readable without a
// separate index.
package session

import (
	"encoding/json"
	"time"

	"github.com/vjohannesb/majordomo/pkg/backend"
)

// Session is one conversation's durable state. The store owns persisted
// sessions; the agent runner holds a working copy during a run and hands
// mutations back through Save.
type Session struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Messages  []backend.Message      `json:"messages"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is a listing entry for one durable session
type Summary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// Record type discriminators for the on-disk format.
const (
	recordTypeSession = "session"
	recordTypeMessage = "message"
)

type sessionRecord struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type messageRecord struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type recordHeader struct {
	Type string `json:"type"`
}

func encodeSessionRecord(s *Session) ([]byte, error) {
	return json.Marshal(sessionRecord{
		Type:      recordTypeSession,
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Metadata:  s.Metadata,
	})
}

func encodeMessageRecord(msg backend.Message) ([]byte, error) {
	content, err := msg.ContentJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageRecord{
		Type:    recordTypeMessage,
		Role:    msg.Role,
		Content: content,
	})
}

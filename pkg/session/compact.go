package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vjohannesb/majordomo/internal/observability"
	"github.com/vjohannesb/majordomo/pkg/backend"
)

const (
	// CompactThreshold is the history length below which Compact is a no-op.
	CompactThreshold = 20
	// CompactTail is the minimum number of trailing messages preserved verbatim.
	CompactTail = 10
)

const compactAck = "Understood. I have the summary of our earlier conversation and will use it as context going forward."

// Summarizer produces a textual summary of the messages being dropped.
type Summarizer func(dropped []backend.Message) (string, error)

// Compact bounds a session's history. Below CompactThreshold messages it
// does nothing. Otherwise the oldest messages are replaced by a synthetic
// user message embedding summarize's output plus a canned assistant
// acknowledgment, followed by the preserved tail.
//
// The tail is the last CompactTail messages, extended backward until it
// starts on a user message so no tool_result is left without its tool_use.
//
// Compaction is atomic: the compacted form is persisted before the cache
// is updated, and on any failure the original session is left untouched.
func (s *Store) Compact(id string, summarize Summarizer) error {
	if err := s.validateID(id); err != nil {
		return err
	}
	if summarize == nil {
		return fmt.Errorf("summarize function is required")
	}

	sess, err := s.Get(id)
	if err != nil {
		return err
	}

	if len(sess.Messages) < CompactThreshold {
		log.Debug().
			Str("session_id", id).
			Int("messages", len(sess.Messages)).
			Msg("Session below compaction threshold, skipping")
		return nil
	}

	cut := len(sess.Messages) - CompactTail
	for cut > 0 && sess.Messages[cut].Role != backend.RoleUser {
		cut--
	}

	dropped := sess.Messages[:cut]
	tail := sess.Messages[cut:]

	summary, err := summarize(dropped)
	if err != nil {
		return fmt.Errorf("failed to summarize session %s: %w", id, err)
	}

	compacted := make([]backend.Message, 0, len(tail)+2)
	compacted = append(compacted,
		backend.UserMessage(fmt.Sprintf("Summary of the conversation so far:\n\n%s", summary)),
		backend.AssistantMessage(compactAck),
	)
	compacted = append(compacted, tail...)

	next := &Session{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: time.Now().UTC(),
		Messages:  compacted,
		Metadata:  sess.Metadata,
	}

	if err := s.persist(next); err != nil {
		return fmt.Errorf("failed to persist compacted session %s: %w", id, err)
	}

	s.cache[id] = next
	observability.RecordSessionCompaction()

	log.Info().
		Str("session_id", id).
		Int("before", len(sess.Messages)).
		Int("after", len(next.Messages)).
		Int("dropped", len(dropped)).
		Msg("Session compacted")

	return nil
}

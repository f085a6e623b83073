package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vjohannesb/majordomo/internal/observability"
	"github.com/vjohannesb/majordomo/internal/tracing"
	"github.com/vjohannesb/majordomo/pkg/backend"
)

const previewLimit = 80

// NoPreview is the listing placeholder when a session has no user text.
const NoPreview = "(no messages)"

// Store manages durable conversation history.
//
// The in-memory cache is not synchronized across concurrent runs against the
// same session id; per-session write locks only serialize durable writes.
// Single-session-at-a-time usage is the supported mode.
type Store struct {
	dir        string
	cache      map[string]*Session
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// New creates a session store rooted at dir
func New(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".majordomo", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		cache:      make(map[string]*Session),
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Session store initialized")
	s.updateActiveSessionsMetric()

	return s, nil
}

// validateID rejects ids that could escape the sessions directory
func (s *Store) validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

func (s *Store) updateActiveSessionsMetric() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			count++
		}
	}
	observability.SetActiveSessions(count)
}

func (s *Store) getWriteLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[id]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[id] = lock
	return lock
}

func (s *Store) releaseWriteLock(id string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, id)
}

// Create registers a new session with a generated id and empty history.
// It exists only in the cache until the first Save.
func (s *Store) Create(metadata map[string]interface{}) string {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	s.cache[sess.ID] = sess

	log.Debug().Str("session_id", sess.ID).Msg("Session created")
	return sess.ID
}

// Get returns the session for id: cache hit, else durable load, else a
// synthesized empty session. An unknown id never raises; it resolves to a
// fresh session so callers can resume with ids minted elsewhere.
func (s *Store) Get(id string) (*Session, error) {
	return s.GetWithContext(context.Background(), id)
}

// GetWithContext is Get with a tracing context.
func (s *Store) GetWithContext(ctx context.Context, id string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"majordomo.session",
		"session.get",
		attribute.String("session_id", id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := s.validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if sess, ok := s.cache[id]; ok {
		return sess, nil
	}

	sess, err := s.load(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if sess == nil {
		// Unknown id: synthesize an empty session rather than erroring.
		now := time.Now().UTC()
		sess = &Session{ID: id, CreatedAt: now, UpdatedAt: now}
		logger.Debug().Str("session_id", id).Msg("Unknown session id, synthesized empty session")
	}

	s.cache[id] = sess
	return sess, nil
}

// load reads a session file; (nil, nil) when no durable record exists.
// Unparseable lines are skipped, not fatal.
func (s *Store) load(id string) (*Session, error) {
	path := s.path(id)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	sess := &Session{ID: id}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var header recordHeader
		if err := json.Unmarshal([]byte(line), &header); err != nil {
			log.Warn().
				Str("session_id", id).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse session line, skipping")
			continue
		}

		switch header.Type {
		case recordTypeSession:
			var rec sessionRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				log.Warn().Str("session_id", id).Int("line", lineNum).Err(err).Msg("Invalid session record, skipping")
				continue
			}
			sess.CreatedAt = rec.CreatedAt
			sess.UpdatedAt = rec.UpdatedAt
			sess.Metadata = rec.Metadata
		case recordTypeMessage:
			var msg backend.Message
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				log.Warn().Str("session_id", id).Int("line", lineNum).Err(err).Msg("Invalid message record, skipping")
				continue
			}
			if msg.Role == "" {
				log.Warn().Str("session_id", id).Int("line", lineNum).Msg("Message record without role, skipping")
				continue
			}
			sess.Messages = append(sess.Messages, msg)
		default:
			log.Warn().Str("session_id", id).Int("line", lineNum).Str("type", header.Type).Msg("Unknown record type, skipping")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	return sess, nil
}

// Save persists the cached session durably. UpdatedAt is recomputed; the
// session record is written first, then one record per message in order, to
// a temp file that atomically replaces the previous durable form.
func (s *Store) Save(id string) error {
	return s.SaveWithContext(context.Background(), id)
}

// SaveWithContext is Save with a tracing context.
func (s *Store) SaveWithContext(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(
		ctx,
		"majordomo.session",
		"session.save",
		attribute.String("session_id", id),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := s.validateID(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	sess, ok := s.cache[id]
	if !ok {
		err := fmt.Errorf("session %s is not loaded", id)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	sess.UpdatedAt = time.Now().UTC()

	if err := s.persist(sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.updateActiveSessionsMetric()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("session_id", id).
		Int("messages", len(sess.Messages)).
		Msg("Session saved")

	return nil
}

// persist writes the session to a temp file and renames it into place.
// The in-memory copy stays authoritative regardless of the outcome.
func (s *Store) persist(sess *Session) error {
	lock := s.getWriteLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(sess.ID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}

	write := func(data []byte) error {
		_, err := file.Write(append(data, '\n'))
		return err
	}

	fail := func(err error) error {
		file.Close()
		os.Remove(tempPath)
		return err
	}

	header, err := encodeSessionRecord(sess)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal session record: %w", err))
	}
	if err := write(header); err != nil {
		return fail(fmt.Errorf("failed to write session record: %w", err))
	}

	for i, msg := range sess.Messages {
		data, err := encodeMessageRecord(msg)
		if err != nil {
			return fail(fmt.Errorf("failed to marshal message %d: %w", i, err))
		}
		if err := write(data); err != nil {
			return fail(fmt.Errorf("failed to write message %d: %w", i, err))
		}
	}

	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync session file: %w", err))
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}

// Delete removes the cache entry and the durable record
func (s *Store) Delete(id string) error {
	if err := s.validateID(id); err != nil {
		return err
	}

	lock := s.getWriteLock(id)
	lock.Lock()
	defer lock.Unlock()

	delete(s.cache, id)

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.releaseWriteLock(id)
	s.updateActiveSessionsMetric()

	log.Info().Str("session_id", id).Msg("Session deleted")
	return nil
}

// List enumerates durable sessions, most recently updated first. Each
// summary carries a short preview from the first user message's text.
// Corrupted session files are skipped, not fatal.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".jsonl")
		sess, err := s.load(id)
		if err != nil || sess == nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Skipping unreadable session")
			continue
		}

		summaries = append(summaries, Summary{
			ID:           sess.ID,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			MessageCount: len(sess.Messages),
			Preview:      preview(sess),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

// MostRecent returns the id of the session with the greatest UpdatedAt,
// or false when no durable sessions exist.
func (s *Store) MostRecent() (string, bool) {
	summaries, err := s.List()
	if err != nil || len(summaries) == 0 {
		return "", false
	}
	return summaries[0].ID, true
}

// Repair rewrites a session file from whatever parses, dropping corrupted
// lines for good.
func (s *Store) Repair(id string) error {
	if err := s.validateID(id); err != nil {
		return err
	}

	sess, err := s.load(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s has no durable record", id)
	}

	if err := s.persist(sess); err != nil {
		return err
	}
	s.cache[id] = sess

	log.Info().Str("session_id", id).Int("messages", len(sess.Messages)).Msg("Session repaired")
	return nil
}

// preview derives a listing snippet from the first user message only; a
// session opening with a textless user turn gets the placeholder.
func preview(sess *Session) string {
	for _, msg := range sess.Messages {
		if msg.Role != backend.RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.TextContent())
		if text == "" {
			break
		}
		runes := []rune(text)
		if len(runes) > previewLimit {
			return string(runes[:previewLimit]) + "..."
		}
		return text
	}
	return NoPreview
}

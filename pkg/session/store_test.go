package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjohannesb/majordomo/pkg/backend"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStoreCreate(t *testing.T) {
	t.Run("should generate distinct ids for successive creates", func(t *testing.T) {
		store := newTestStore(t)

		first := store.Create(nil)
		second := store.Create(nil)

		assert.NotEmpty(t, first)
		assert.NotEmpty(t, second)
		assert.NotEqual(t, first, second)
	})

	t.Run("should not persist until first save", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)

		_, err := os.Stat(store.path(id))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("should keep caller metadata", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(map[string]interface{}{"channel": "cli"})

		sess, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "cli", sess.Metadata["channel"])
	})
}

func TestStoreRoundTrip(t *testing.T) {
	t.Run("should reconstruct the ordered message sequence after save", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		sess, err := store.Get(id)
		require.NoError(t, err)

		sess.Messages = append(sess.Messages,
			backend.UserMessage("list my slack channels"),
			backend.Message{
				Role: backend.RoleAssistant,
				Content: []backend.ContentBlock{
					backend.TextBlock("Let me check."),
					backend.ToolUseBlock("toolu_01", "slack_list_channels", map[string]interface{}{"limit": float64(20)}),
				},
			},
			backend.Message{
				Role: backend.RoleUser,
				Content: []backend.ContentBlock{
					backend.ToolResultBlock("toolu_01", `["#general","#random"]`, false),
				},
			},
			backend.AssistantMessage("You have #general and #random."),
		)
		require.NoError(t, store.Save(id))

		// Drop the cache so Get has to read the durable form.
		fresh, err := New(store.dir)
		require.NoError(t, err)
		loaded, err := fresh.Get(id)
		require.NoError(t, err)

		require.Len(t, loaded.Messages, 4)
		assert.Equal(t, sess.Messages, loaded.Messages)
		assert.Equal(t, "toolu_01", loaded.Messages[2].Content[0].ToolUseID)
		assert.Equal(t, "slack_list_channels", loaded.Messages[1].ToolCalls()[0].Name)
	})

	t.Run("should advance updated_at on every save", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		require.NoError(t, store.Save(id))
		sess, err := store.Get(id)
		require.NoError(t, err)
		first := sess.UpdatedAt

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.Save(id))

		assert.True(t, sess.UpdatedAt.After(first))
	})
}

func TestStoreGet(t *testing.T) {
	t.Run("should synthesize an empty session for an unknown id", func(t *testing.T) {
		store := newTestStore(t)

		sess, err := store.Get("never-seen-before")

		require.NoError(t, err)
		assert.Equal(t, "never-seen-before", sess.ID)
		assert.Empty(t, sess.Messages)
	})

	t.Run("should reject ids that escape the sessions directory", func(t *testing.T) {
		store := newTestStore(t)

		for _, id := range []string{"", "../evil", "a/b", "a\\b", "nul\x00byte"} {
			_, err := store.Get(id)
			assert.Error(t, err, "id %q", id)
		}
	})

	t.Run("should skip corrupted lines and keep the rest", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		sess, err := store.Get(id)
		require.NoError(t, err)
		sess.Messages = append(sess.Messages,
			backend.UserMessage("hello"),
			backend.AssistantMessage("hi there"),
		)
		require.NoError(t, store.Save(id))

		data, err := os.ReadFile(store.path(id))
		require.NoError(t, err)
		corrupted := append([]byte("{not json at all\n"), data...)
		corrupted = append(corrupted, []byte("{\"type\":\"mystery\"}\n")...)
		require.NoError(t, os.WriteFile(store.path(id), corrupted, 0600))

		fresh, err := New(store.dir)
		require.NoError(t, err)
		loaded, err := fresh.Get(id)
		require.NoError(t, err)

		require.Len(t, loaded.Messages, 2)
		assert.Equal(t, "hello", loaded.Messages[0].TextContent())
	})
}

func TestStoreList(t *testing.T) {
	t.Run("should order summaries by updated_at descending", func(t *testing.T) {
		store := newTestStore(t)

		older := store.Create(nil)
		require.NoError(t, store.Save(older))
		time.Sleep(10 * time.Millisecond)
		newer := store.Create(nil)
		require.NoError(t, store.Save(newer))

		summaries, err := store.List()
		require.NoError(t, err)

		require.Len(t, summaries, 2)
		assert.Equal(t, newer, summaries[0].ID)
		assert.Equal(t, older, summaries[1].ID)
	})

	t.Run("should derive preview from the first user message", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		sess, err := store.Get(id)
		require.NoError(t, err)
		sess.Messages = append(sess.Messages, backend.UserMessage("what is on my calendar today?"))
		require.NoError(t, store.Save(id))

		summaries, err := store.List()
		require.NoError(t, err)

		require.Len(t, summaries, 1)
		assert.Equal(t, "what is on my calendar today?", summaries[0].Preview)
		assert.Equal(t, 1, summaries[0].MessageCount)
	})

	t.Run("should use placeholder preview when no user text exists", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		require.NoError(t, store.Save(id))

		summaries, err := store.List()
		require.NoError(t, err)

		require.Len(t, summaries, 1)
		assert.Equal(t, NoPreview, summaries[0].Preview)
	})

	t.Run("should use placeholder preview when the first user message has no text", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		sess, err := store.Get(id)
		require.NoError(t, err)
		sess.Messages = append(sess.Messages,
			backend.Message{Role: backend.RoleUser, Content: []backend.ContentBlock{
				backend.ToolResultBlock("toolu_01", "ok", false),
			}},
			backend.UserMessage("later question"),
		)
		require.NoError(t, store.Save(id))

		summaries, err := store.List()
		require.NoError(t, err)

		require.Len(t, summaries, 1)
		assert.Equal(t, NoPreview, summaries[0].Preview)
	})

	t.Run("should skip non-session files in the directory", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		require.NoError(t, store.Save(id))
		require.NoError(t, os.WriteFile(filepath.Join(store.dir, "notes.txt"), []byte("ignore"), 0600))

		summaries, err := store.List()
		require.NoError(t, err)

		assert.Len(t, summaries, 1)
	})
}

func TestStoreMostRecent(t *testing.T) {
	t.Run("should return false when no durable sessions exist", func(t *testing.T) {
		store := newTestStore(t)

		_, ok := store.MostRecent()

		assert.False(t, ok)
	})

	t.Run("should return the session with the greatest updated_at", func(t *testing.T) {
		store := newTestStore(t)

		first := store.Create(nil)
		require.NoError(t, store.Save(first))
		time.Sleep(10 * time.Millisecond)
		second := store.Create(nil)
		require.NoError(t, store.Save(second))
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.Save(first))

		id, ok := store.MostRecent()

		require.True(t, ok)
		assert.Equal(t, first, id)
	})
}

func TestStoreDelete(t *testing.T) {
	t.Run("should remove both the cache entry and the durable record", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		require.NoError(t, store.Save(id))
		require.NoError(t, store.Delete(id))

		_, err := os.Stat(store.path(id))
		assert.True(t, os.IsNotExist(err))

		// Get after delete synthesizes a fresh session, not the old one.
		sess, err := store.Get(id)
		require.NoError(t, err)
		assert.Empty(t, sess.Messages)
	})

	t.Run("should tolerate deleting a session that was never saved", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)

		assert.NoError(t, store.Delete(id))
	})
}

func TestStoreRepair(t *testing.T) {
	t.Run("should drop corrupted lines from the durable record", func(t *testing.T) {
		store := newTestStore(t)

		id := store.Create(nil)
		sess, err := store.Get(id)
		require.NoError(t, err)
		sess.Messages = append(sess.Messages, backend.UserMessage("hello"))
		require.NoError(t, store.Save(id))

		data, err := os.ReadFile(store.path(id))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(store.path(id), append(data, []byte("garbage line\n")...), 0600))

		require.NoError(t, store.Repair(id))

		repaired, err := os.ReadFile(store.path(id))
		require.NoError(t, err)
		assert.NotContains(t, string(repaired), "garbage line")
	})

	t.Run("should error for a session with no durable record", func(t *testing.T) {
		store := newTestStore(t)

		assert.Error(t, store.Repair("missing-session"))
	})
}

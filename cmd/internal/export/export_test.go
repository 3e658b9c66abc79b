package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pairgate/cmd/security/seal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSessionID = "01JNQ5W9ZR8Y3C4D5E6F7G8H9J"

func testRecord() Record {
	return Record{
		SessionID:     testSessionID,
		SessionString: "eyJjbGllbnRJRCI6ImMxIn0=",
		SessionName:   "PAIR_6F7G8H9J",
		Number:        "15551234567",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	_, err := st.Load(ctx, testSessionID)
	require.ErrorIs(t, err, ErrNotFound)

	rec := testRecord()
	require.NoError(t, st.Save(ctx, rec))

	got, err := st.Load(ctx, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionString, got.SessionString)
	assert.Equal(t, rec.SessionName, got.SessionName)
	assert.Equal(t, rec.Number, got.Number)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.False(t, got.ExportedAt.IsZero())

	rec.SessionString = "b3ZlcndyaXR0ZW4="
	require.NoError(t, st.Save(ctx, rec), "save must be an idempotent overwrite")
	got, err = st.Load(ctx, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, "b3ZlcndyaXR0ZW4=", got.SessionString)

	bad := testRecord()
	bad.SessionString = " "
	require.Error(t, st.Save(ctx, bad))
	bad = testRecord()
	bad.SessionID = "../etc/passwd"
	require.Error(t, st.Save(ctx, bad))
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "sessions")
	st, err := NewFileStore(dir)
	require.NoError(t, err)
	exerciseStore(t, st)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, testSessionID+".json", entries[0].Name())

	b, err := os.ReadFile(filepath.Join(dir, testSessionID+".json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"sessionId": "`+testSessionID+`"`))
	assert.True(t, strings.Contains(string(b), `"exportedAt"`))

	_, err = st.Load(context.Background(), "not-a-ulid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	st, err := OpenSQLite(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	exerciseStore(t, st)
}

func TestSealedStore_SealsAtRest(t *testing.T) {
	t.Parallel()

	sealer, err := seal.NewSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	inner, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	st, err := NewSealedStore(inner, sealer)
	require.NoError(t, err)
	exerciseStore(t, st)

	raw, err := inner.Load(context.Background(), testSessionID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.SessionString, "v1."))
	assert.NotContains(t, raw.SessionString, "b3ZlcndyaXR0ZW4")
}

func TestNewSealedStore_RequiresParts(t *testing.T) {
	t.Parallel()

	_, err := NewSealedStore(nil, nil)
	require.Error(t, err)
}

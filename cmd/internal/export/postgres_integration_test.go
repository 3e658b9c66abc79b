package export

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"pairgate/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when PAIRGATE_TEST_DATABASE_URL is set.

func TestPostgresStore(t *testing.T) {
	t.Parallel()

	raw := strings.TrimSpace(os.Getenv("PAIRGATE_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PAIRGATE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	require.NoError(t, err)
	defer pool.Close()

	id, err := ids.NewULID(time.Now())
	require.NoError(t, err)
	schema := "pairgate_it_" + strings.ToLower(id[len(id)-8:])
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		_, _ = pool.Exec(cctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	st, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(ctx))

	exerciseStore(t, st)
}

func TestNewPostgresStore_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStore(nil)
	require.Error(t, err)

	_, err = NewPostgresStore(nil, WithSchema("bad-schema;"))
	require.Error(t, err)
}

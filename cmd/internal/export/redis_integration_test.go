package export

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when PAIRGATE_TEST_REDIS_ADDR is set.

func TestRedisStore(t *testing.T) {
	t.Parallel()

	addr := strings.TrimSpace(os.Getenv("PAIRGATE_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: PAIRGATE_TEST_REDIS_ADDR is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, addr, "", 0)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	st, err := NewRedisStore(client, time.Minute)
	require.NoError(t, err)
	st.prefix = "pairgate:it:" + time.Now().Format("150405.000000") + ":"
	t.Cleanup(func() { _ = client.Del(context.Background(), st.key(testSessionID)).Err() })

	exerciseStore(t, st)
}

package db

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateConcurrentStarters(t *testing.T) {
	dsn := os.Getenv("APP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skipping test; APP_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = Migrate(ctx, dsn)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	var n int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM goose_db_version WHERE version_id = 3 AND is_applied`,
	).Scan(&n))
	assert.Equal(t, 1, n)
}

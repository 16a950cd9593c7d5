package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcaje/internal/attendance"
	"marcaje/internal/config"
)

func TestOpenRepositoryMemory(t *testing.T) {
	repo, closeFn, err := OpenRepository(context.Background(), config.App{StoreBackend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &attendance.MemoryRepository{}, repo)
	assert.NoError(t, repo.Ping(context.Background()))
	assert.NoError(t, closeFn(context.Background()))
}

func TestOpenRepositoryUnknown(t *testing.T) {
	_, _, err := OpenRepository(context.Background(), config.App{StoreBackend: "cassandra"})
	assert.ErrorContains(t, err, "cassandra")
}

func TestSchemaCoversRepositoryTables(t *testing.T) {
	joined := ""
	for _, stmt := range schema {
		joined += stmt
	}
	for _, table := range []string{"establishments", "schedules", "users", "marcajes", "admins", "devices", "refresh_tokens"} {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
}

func TestRedisHealthyNil(t *testing.T) {
	assert.False(t, RedisHealthy(context.Background(), nil))
}

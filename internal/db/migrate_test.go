package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreOrdered(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_scheduling.sql", names[0])

	body, err := migrationFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"programs", "day_slot_groups", "slots", "appointments", "scheduling_events"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestTxFromContextWithoutTransaction(t *testing.T) {
	assert.Nil(t, TxFromContext(context.Background()))
}

func TestConnectPostgresRejectsBadDSN(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), "::not a dsn::")
	assert.Error(t, err)
}

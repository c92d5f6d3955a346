package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/lmn-dev/lmn/models"
)

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "launched.db")
	database, err := Open(path)
	require.NoError(t, err)
	defer Close(database)

	rec := models.LaunchRecord{Machine: "cluster", JobID: "7", LaunchedAt: time.Now()}
	require.NoError(t, database.Create(&rec).Error)

	var count int64
	require.NoError(t, database.Model(&models.LaunchRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.FileExists(t, path)
}

func TestOpenInMemory(t *testing.T) {
	database, err := Open(InMemory)
	require.NoError(t, err)
	defer Close(database)
	assert.True(t, database.Migrator().HasTable(&models.LaunchRecord{}))
}

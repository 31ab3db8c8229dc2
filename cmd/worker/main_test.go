package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-indexer/internal/config"
	"rag-indexer/internal/shared/model"
)

// 全新数据库上 openStore 必须完成建表，否则账本操作全部失败
func TestOpenStoreMigratesFreshDatabase(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: "sqlite", DatabaseURL: ":memory:"}
	store, closer, err := openStore(cfg)
	require.NoError(t, err)
	require.Nil(t, closer)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	run := model.NewRun("run-fresh-002", "demo", "sample", "", model.FailModeNever)
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Steps, len(model.StepOrder()))
}

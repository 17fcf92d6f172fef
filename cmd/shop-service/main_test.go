package main

import (
	"context"
	"testing"

	"github.com/fjod/go_cart/shop-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRun_StartFailureReturns(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Driver = "postgres"
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = 1

	core, logs := observer.New(zapcore.InfoLevel)
	err = run(context.Background(), cfg, zap.New(core))
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("failed to start").FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Zero(t, logs.FilterMessage("failed to flush traces").Len())
}

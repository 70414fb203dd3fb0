// File: internal/observability/logger_test.go
package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/autosign-cli/internal/config"
)

func TestGetLogger_FallbackBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger, "GetLogger must never return nil")
	logger.Debug("usable without explicit initialization")
}

func TestInitializeLogger_AppliesLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	InitializeLogger(config.LoggerConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "autosign-test",
	})

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel), "info must be filtered at warn level")
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestSetLogger_InjectsTestLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))

	GetLogger().Info("hello from test")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello from test", logs.All()[0].Message)
}

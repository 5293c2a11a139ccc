package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*******4567", MaskPhone("+1 (555) 123-4567"))
	assert.Equal(t, "***", MaskPhone("911"))
	assert.Equal(t, "", MaskPhone(""))
}

func TestRedactCoreMasksCallerData(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(NewRedactCore(core)).With(zap.String("to_number", "+15551234567"))

	log.Info("call for unmapped business",
		zap.String("transcript", "my furnace is out"),
		zap.String("external_call_id", "call_1"),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "*******4567", fields["to_number"])
	assert.Equal(t, "[redacted len=17]", fields["transcript"])
	assert.Equal(t, "call_1", fields["external_call_id"])
}

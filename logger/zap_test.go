package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapFieldsSorted(t *testing.T) {
	fields := zapFields(map[string]any{
		"wallet": "0xabc",
		"amount": "20000",
		"chain":  "evm",
	})
	require.Len(t, fields, 3)
	assert.Equal(t, "amount", fields[0].Key)
	assert.Equal(t, "chain", fields[1].Key)
	assert.Equal(t, "wallet", fields[2].Key)

	assert.Nil(t, zapFields(nil))
}

func TestNewZapLoggerLevelFallback(t *testing.T) {
	// An unknown level must still yield a working logger.
	log := NewZapLogger("verbose")
	require.NotNil(t, log)
	log.Info("started", map[string]any{"level": "fallback"})
}

package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		debug     bool
		wantDebug bool
	}{
		{debug: true, wantDebug: true},
		{debug: false, wantDebug: false},
	}

	for _, tt := range tests {
		logger, err := NewLogger(tt.debug)
		require.NoError(t, err)
		assert.Equal(t, tt.wantDebug, logger.Desugar().Core().Enabled(zapcore.DebugLevel))
		assert.True(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel))
	}
}

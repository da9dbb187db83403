package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsKnownLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		log, err := New(lvl, true)
		require.NoError(t, err, lvl)
		log.Infow("hello", "level", lvl)
		_ = log.Sync()
	}
}

func TestNewRejectsBogusLevel(t *testing.T) {
	_, err := New("chatty", false)
	assert.Error(t, err)
}

func TestNopIsSafe(t *testing.T) {
	Nop().Errorw("ignored", "k", "v")
}

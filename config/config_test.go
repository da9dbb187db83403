package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 800, cfg.OCRThresholdChars)
	assert.Equal(t, 144, cfg.OCRDPI)
	assert.Equal(t, "eng", cfg.OCRLanguages)
	assert.True(t, cfg.OCREnabled)
	assert.Equal(t, "pdftoppm", cfg.RenderBin)
	assert.True(t, cfg.WetScanEnabled)
	assert.Equal(t, 5, cfg.WetMaxPages)
	assert.Empty(t, cfg.CachePath)
	assert.Empty(t, cfg.AuditDSN)
	assert.Equal(t, "analysis_events", cfg.AuditTable)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("OCR_THRESHOLD_CHARS", "120")
	t.Setenv("OCR_LANGUAGES", "eng+deu")
	t.Setenv("OCR_ENABLED", "false")
	t.Setenv("LOG_JSON", "false")
	t.Setenv("OCR_TIMEOUT", "90")
	t.Setenv("RENDER_TIMEOUT", "45s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 120, cfg.OCRThresholdChars)
	assert.Equal(t, "eng+deu", cfg.OCRLanguages)
	assert.False(t, cfg.OCREnabled)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, 90*time.Second, cfg.OCRTimeout)
	assert.Equal(t, 45*time.Second, cfg.RenderTimeout)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("PORT", "eighty")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	t.Setenv("PORT", "70000")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNegativeThreshold(t *testing.T) {
	t.Setenv("OCR_THRESHOLD_CHARS", "-1")
	_, err := Load()
	assert.Error(t, err)
}

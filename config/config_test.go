package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 12*time.Hour, cfg.ParticipantTTL)
	assert.Contains(t, cfg.DSN(), "dbname=livesurvey")
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	// t.Setenv registers cleanup so values set by godotenv are restored.
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=fromfile\nPORT=9191\nPARTICIPANT_TTL=30m\n"), 0o600))
	t.Setenv("PARTICIPANT_TTL", "")
	os.Unsetenv("PARTICIPANT_TTL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.JWTSecret)
	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.ParticipantTTL)
}

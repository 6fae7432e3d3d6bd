package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "config.yaml", "local:\n  folder: /tmp/out\n"))
	require.NoError(t, err)

	assert.Equal(t, DestinationLocal, cfg.Destination)
	assert.True(t, cfg.AddRecordMetadata)
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, 30*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 3, cfg.BackendRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "/tmp/out", cfg.Local.Folder)
}

func TestLoadConfig_YAML(t *testing.T) {
	content := `
destination: s3
add_record_metadata: false
compression: lz4
backend_timeout: 5s
s3:
  bucket: my-s3-bucket
  prefix: put/files/in/here
`

	cfg, err := LoadConfig(writeFile(t, "config.yaml", content))
	require.NoError(t, err)

	assert.Equal(t, DestinationS3, cfg.Destination)
	assert.False(t, cfg.AddRecordMetadata)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.Equal(t, 5*time.Second, cfg.BackendTimeout)
	assert.Equal(t, "my-s3-bucket", cfg.S3.Bucket)
	assert.Equal(t, "put/files/in/here", cfg.S3.Prefix)
}

func TestLoadConfig_JSON(t *testing.T) {
	// The original tooling shipped JSON config files; both formats load.
	content := `{"destination":"local","local":{"folder":".secrets/output/"}}`

	cfg, err := LoadConfig(writeFile(t, "config.json", content))
	require.NoError(t, err)

	assert.Equal(t, DestinationLocal, cfg.Destination)
	assert.Equal(t, ".secrets/output/", cfg.Local.Folder)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidConfig(t *testing.T) {
	_, err := LoadConfig(writeFile(t, "config.yaml", "destination: carrier-pigeon\n"))
	require.ErrorIs(t, err, ErrUnsupportedDestination)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TAPSINK_COMPRESSION", "none")

	cfg, err := LoadConfig(writeFile(t, "config.yaml", "local:\n  folder: /tmp/out\n"))
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.Compression)
}

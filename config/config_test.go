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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
local:
  aet: DICOMNET
  host: 0.0.0.0
  port: 11112
nodes:
  archive:
    aet: ARCHIVE
    host: pacs.example.org
    port: 104
    tls: true
    validate_hostname: true
timeouts:
  connect: 10
  accept: 15
  release: 5
max_ops_invoked: 3
storage:
  directory: /var/lib/dicomnet
  filename_pattern: "{00080020,date,yyyy/MM/dd}/{00080018}.dcm"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DICOMNET", cfg.Local.AET)
	node, err := cfg.Node("archive")
	require.NoError(t, err)
	assert.Equal(t, "ARCHIVE", node.AET)
	assert.True(t, node.TLS)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ConnectTimeout())
	assert.Equal(t, 15*time.Second, cfg.Timeouts.AcceptTimeout())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.ReleaseTimeout())
	_, err = cfg.Node("missing")
	assert.Error(t, err)
}

func TestLoadConfigRejectsLongAET(t *testing.T) {
	path := writeFile(t, "config.yaml", `
local:
  aet: THIS-AET-IS-MUCH-TOO-LONG
  host: 0.0.0.0
  port: 11112
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	path := writeFile(t, "config.yaml", `
local:
  aet: A
  host: h
  port: 123456
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadTransferCapabilities(t *testing.T) {
	path := writeFile(t, "caps.properties", `
# storage classes
1.2.840.10008.5.1.4.1.1.2 = 1.2.840.10008.1.2.1, 1.2.840.10008.1.2
1.2.840.10008.5.1.4.1.1.4: 1.2.840.10008.1.2.4.50
`)
	caps, err := LoadTransferCapabilities(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.840.10008.1.2.1", "1.2.840.10008.1.2"},
		caps["1.2.840.10008.5.1.4.1.1.2"])
	assert.Equal(t, []string{"1.2.840.10008.1.2.4.50"},
		caps["1.2.840.10008.5.1.4.1.1.4"])
}

func TestLoadRelatedSOPClasses(t *testing.T) {
	path := writeFile(t, "related.properties", `
1.2.840.10008.5.1.4.1.1.2.1 = 1.2.840.10008.4.2:1.2.840.10008.5.1.4.1.1.2
`)
	related, err := LoadRelatedSOPClasses(path)
	require.NoError(t, err)
	entry := related["1.2.840.10008.5.1.4.1.1.2.1"]
	assert.Equal(t, "1.2.840.10008.4.2", entry.ServiceClassUID)
	assert.Equal(t, []string{"1.2.840.10008.5.1.4.1.1.2"}, entry.RelatedGeneralSOPClassUIDs)
}

func TestLoadPropertiesErrors(t *testing.T) {
	path := writeFile(t, "bad.properties", "no separator here\n")
	_, err := LoadProperties(path)
	require.Error(t, err)
}

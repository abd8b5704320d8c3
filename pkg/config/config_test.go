package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fixgate/pkg/session"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
logging:
  level: INFO
session:
  mode: initiator
  sender: BANZAI
  target: EXEC
  host: 127.0.0.1
  port: 9880
store:
  type: memory
`

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "FIX.4.4", cfg.Session.Version)
	assert.Equal(t, 30, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Session.RetryInterval)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 9910, cfg.API.Port)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFullSessionSection(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
session:
  mode: acceptor
  sender: EXEC
  target: BANZAI
  version: FIX.4.2
  port: 9881
  heartbeat_interval: 10
  reset_seq_num_on_logon: true
  retry_interval: 2s
  max_retries: 7
store:
  type: memory
schedule:
  - time: "07:55"
    action: start
  - time: "17:05"
    action: stop
`))
	require.NoError(t, err)

	sc := cfg.SessionConfig()
	assert.Equal(t, session.ModeAcceptor, sc.Mode)
	assert.Equal(t, "FIX.4.2", sc.BeginString)
	assert.Equal(t, 10*time.Second, sc.HeartbeatInterval)
	assert.True(t, sc.ResetSeqNumOnLogon)
	assert.Equal(t, 2*time.Second, sc.RetryInterval)
	assert.Equal(t, 7, sc.MaxRetries)

	entries := cfg.ScheduleEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, session.ActionStart, entries[0].Action)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"missing mode": `
session:
  sender: A
  target: B
  port: 1
`,
		"same comp ids": `
session:
  mode: acceptor
  sender: SAME
  target: SAME
  port: 1
`,
		"bad version": `
session:
  mode: acceptor
  sender: A
  target: B
  version: FIX.5.0
  port: 1
`,
		"initiator without host": `
session:
  mode: initiator
  sender: A
  target: B
  port: 1
`,
		"postgres without host": `
session:
  mode: acceptor
  sender: A
  target: B
  port: 1
store:
  type: postgres
`,
		"bad schedule action": `
session:
  mode: acceptor
  sender: A
  target: B
  port: 1
schedule:
  - time: "09:00"
    action: explode
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FIXGATE_LOGGING_LEVEL", "DEBUG")
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestMustLoadMissingFileIsActionable(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSampleYAMLIsLoadable(t *testing.T) {
	cfg, err := Load(writeConfig(t, SampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "initiator", cfg.Session.Mode)
	assert.Equal(t, "BANZAI", cfg.Session.Sender)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, []string{"command", "movement", "shooting", "charge", "fight"}, cfg.Rules.Phases)
	assert.Equal(t, 5, cfg.Rules.MaxRounds)
	assert.Equal(t, cfg.Rules, Default().Rules)
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Rules, cfg.Rules)

	_, err = Load(dir)
	require.Error(t, err)
}

func TestLoadRosterAndWebhooks(t *testing.T) {
	dir := t.TempDir()
	body := `rules:
  phases: [command, fight]
  max_rounds: 3
  objectives: [a, b]
roster:
  - id: squad
    role: player
    datasheet: Intercessors
    models:
      - {role: leader, max_health: 2}
      - {max_health: 2}
webhooks:
  - url: http://localhost:9999/hook
    events: [revert.applied]
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "battlelog.yml"), []byte(body), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Roster, 1)
	assert.Len(t, cfg.Roster[0].Models, 2)
	require.Len(t, cfg.Webhooks, 1)
	assert.False(t, cfg.Webhooks[0].IsEnabled())
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"no phases":       "rules:\n  max_rounds: 3\n",
		"zero rounds":     "rules:\n  phases: [a]\n  max_rounds: 0\n",
		"duplicate phase": "rules:\n  phases: [a, a]\n  max_rounds: 1\n",
		"bad roster":      "rules:\n  phases: [a]\n  max_rounds: 1\nroster:\n  - id: x\n    role: ally\n    models: [{max_health: 1}]\n",
		"bad webhook":     "rules:\n  phases: [a]\n  max_rounds: 1\nwebhooks:\n  - url: http://x\n    events: [nope]\n",
	}
	for name, body := range cases {
		_, err := FromYAML([]byte(body))
		assert.Error(t, err, name)
	}
}

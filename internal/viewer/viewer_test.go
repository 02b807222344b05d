package viewer

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("LIVE_PARTICIPANT_ID", "ana")
	t.Setenv("LIVE_SESSION_ID", "s1")
	t.Setenv("LIVE_API_URL", "http://api:8083")

	cfg, err := ParseConfig(flag.NewFlagSet("viewer", flag.ContinueOnError), []string{"-session", "s2", "-host"})

	require.NoError(t, err)
	assert.Equal(t, "ana", cfg.ParticipantID)
	assert.Equal(t, "s2", cfg.SessionID)
	assert.Equal(t, "http://api:8083", cfg.BaseURL)
	assert.True(t, cfg.Host)
	assert.Equal(t, 3, cfg.MaxGuests)
}

func TestParseConfigRequiresIdentity(t *testing.T) {
	_, err := ParseConfig(flag.NewFlagSet("viewer", flag.ContinueOnError), []string{"-session", "s1"})
	assert.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("  hello there ")
	require.True(t, ok)
	assert.Equal(t, Command{Name: "say", Text: "hello there"}, cmd)

	cmd, ok = ParseCommand("/Invite bob")
	require.True(t, ok)
	assert.Equal(t, "invite", cmd.Name)
	assert.Equal(t, []string{"bob"}, cmd.Args)

	cmd, ok = ParseCommand("/reply m1 sounds good")
	require.True(t, ok)
	assert.Equal(t, "m1 sounds good", cmd.Text)

	_, ok = ParseCommand("   ")
	assert.False(t, ok)
	_, ok = ParseCommand("/")
	assert.False(t, ok)
}

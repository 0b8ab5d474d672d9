package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	tomlrepo "github.com/bnema/skyrelay/internal/adapters/repo/toml"
	"github.com/bnema/skyrelay/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionPrintsBuildVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestStatusWithoutSnapshot(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No relay status recorded yet")
	assert.Contains(t, stdout, filepath.Join(home, ".config", "skyrelay", "status.toml"))
}

func TestStatusRendersSnapshot(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeStatusFixture(home))

	stdout, _, err := executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Bluesky Relay")
	assert.Contains(t, stdout, "cards sent: 3")
	assert.Contains(t, stdout, "live cards: 1")
	assert.Contains(t, stdout, "did:plc:alice/3kabc")
}

func TestStatusJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeStatusFixture(home))

	stdout, _, err := executeCLI(t, home, "status", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"Dispatched\": 3")
	assert.Contains(t, stdout, "\"Key\": \"at://did:plc:alice/app.bsky.feed.post/3kabc\"")
}

func TestServeRequiresCredentials(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bluesky.identifier is required")
	assert.Contains(t, err.Error(), "telegram.token is required")
}

func TestCheckRequiresCredentials(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "check", "--quiet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.chat_id is required")
}

func TestMalformedConfigFails(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeConfigFixture(home, "[bluesky]\npoll_interval = \"soon\"\n"))

	_, _, err := executeCLI(t, home, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "bluesky.poll_interval")
}

func TestPathCommands(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "path", "list")
	require.NoError(t, err)
	assert.Equal(t, "btn-bsky-like\nbtn-bsky-repost\nbtn-trans-deepl\n", stdout)

	stdout, _, err = executeCLI(t, home, "path", "build", "btn", "bsky", "repost")
	require.NoError(t, err)
	assert.Equal(t, "btn-bsky-repost\n", stdout)

	stdout, _, err = executeCLI(t, home, "path", "parse", "btn-trans-deepl")
	require.NoError(t, err)
	assert.Equal(t, "btn trans deepl\n", stdout)

	_, _, err = executeCLI(t, home, "path", "parse", "btn-bsky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete command path")
}

func TestRegisterPublishesCommands(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/setMyCommands", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	home := t.TempDir()
	require.NoError(t, writeConfigFixture(home, "[telegram]\napi_url = \""+srv.URL+"\"\ntoken = \"test-token\"\nchat_id = -100\n"))

	stdout, _, err := executeCLI(t, home, "register")
	require.NoError(t, err)
	assert.Equal(t, "registered /ping\nregistered /bluesky\n", stdout)

	commands := got["commands"].([]any)
	require.Len(t, commands, 2)
	assert.Equal(t, "ping", commands[0].(map[string]any)["command"])
}

func TestAuthSetRequiresSecretValueFlag(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(),
		"auth", "set",
		"--secret-key", "telegram/token",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s) \"secret-value\" not set")
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "pool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command \"pool\"")
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfigFixture(home, content string) error {
	configDir := filepath.Join(home, ".config", "skyrelay")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644)
}

func writeStatusFixture(home string) error {
	v := viper.New()
	v.Set("status.path", filepath.Join(home, ".config", "skyrelay", "status.toml"))
	repo, err := tomlrepo.NewStatusRepository(v)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return repo.Save(context.Background(), domain.RelayStatus{
		Running:     true,
		Watermark:   now.Add(-time.Minute),
		LastCycleAt: now.Add(-time.Minute),
		MaxErrors:   5,
		Dispatched:  3,
		LiveSessions: []domain.SessionState{{
			Key:      "at://did:plc:alice/app.bsky.feed.post/3kabc",
			Ref:      "-100:42",
			Alive:    true,
			Deadline: now.Add(20 * time.Minute),
		}},
		UpdatedAt: now,
	})
}

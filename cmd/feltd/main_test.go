package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/feltd/internal/config"
	"github.com/fyrsmithlabs/feltd/internal/turn"
)

// isolate points HOME at a temp dir so config and state stay inside it.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FELT_LOGGING_LEVEL", "error")
	configPath = ""
	return home
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestTurnCmd_LocalPersistsState(t *testing.T) {
	home := isolate(t)

	out, err := execute(t, "", "turn", "--user", "alice", "--turn-id", "t-1", "My dad is in the hospital again and I'm scared.")
	require.NoError(t, err)

	var resp turn.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "t-1", resp.TurnID)
	assert.Equal(t, "alice", resp.UserID)
	assert.NotEmpty(t, resp.Text)

	stateDir := filepath.Join(home, ".local", "share", "feltd")
	assert.FileExists(t, filepath.Join(stateDir, "coupling.json"))

	out, err = execute(t, "", "stats")
	require.NoError(t, err)
	var stats statsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, stateDir, stats.StateDir)
	assert.EqualValues(t, 1, stats.Coupling.Turns)
	assert.Equal(t, 1, stats.Families.Families)
	assert.Positive(t, stats.Entities)
}

func TestTurnCmd_ReadsStdin(t *testing.T) {
	isolate(t)
	out, err := execute(t, "I feel stuck at work\n", "turn", "--user", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, `"user_id": "bob"`)
}

func TestTurnCmd_RequiresUser(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "turn", "hello")
	assert.ErrorContains(t, err, "user")
}

func TestTurnCmd_Remote(t *testing.T) {
	isolate(t)
	var got turn.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/turns", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(turn.Response{TurnID: "remote-1", UserID: got.UserID, Text: "I'm here."})
	}))
	defer srv.Close()

	out, err := execute(t, "", "turn", "--server", srv.URL+"/", "--user", "carol", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "hello there", got.Text)
	assert.Contains(t, out, `"turn_id": "remote-1"`)
}

func TestTurnCmd_RemoteError(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"user_id field is required"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := execute(t, "", "turn", "--server", srv.URL, "--user", "carol", "hello")
	assert.ErrorContains(t, err, "server returned 400")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRunServe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	isolate(t)

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 3 * time.Second
	cfg.Logging.Level = "error"
	base := fmt.Sprintf("http://%s", cfg.Server.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, cfg) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	body := strings.NewReader(`{"user_id":"dana","text":"My sister moved away and the house feels empty."}`)
	resp, err := http.Post(base+"/v1/turns", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metrics), "feltd_coupling_turns 1")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
	assert.FileExists(t, filepath.Join(cfg.Persistence.Dir, "families.json"))
}

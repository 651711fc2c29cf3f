package cli

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeConfigErrors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		cmd := NewServeCommand(&RootOptions{Format: "text", ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "failed to load configuration")
	})

	t.Run("invalid override", func(t *testing.T) {
		cmd := NewServeCommand(&RootOptions{Format: "text", ConfigPath: testConfig(t)})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--port", "70000"})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "server.port")
	})

	t.Run("missing sync directory", func(t *testing.T) {
		cmd := NewServeCommand(&RootOptions{Format: "text", ConfigPath: testConfig(t)})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--syncs", filepath.Join(t.TempDir(), "none")})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start")
	})
}

func TestServeStartsAndStops(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "serve.db")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logs := &bytes.Buffer{}
	cmd := NewServeCommand(&RootOptions{Format: "text", ConfigPath: testConfig(t)})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(logs)
	cmd.SetArgs([]string{"--port", fmt.Sprint(port), "--db", dbPath})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/PasswordAuthentication/register", port)
	require.Eventually(t, func() bool {
		resp, err := http.Post(url, "application/json", strings.NewReader(`{"username":"ada","password":"password1"}`))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("serve did not stop")
	}

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

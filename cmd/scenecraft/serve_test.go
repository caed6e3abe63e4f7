package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/scenecraft/internal/llm"
)

func TestServeLifecycle(t *testing.T) {
	cfg := defaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(cfg, &llm.FakeClient{}, logger)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, a, cfg, logger) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/api/v1/ai/assistant/add_job", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-demo1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.SweepSchedule = "not a schedule"
	_, err := newApp(cfg, &llm.FakeClient{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	cfg = defaultConfig()
	cfg.PoolSize = -1
	_, err = newApp(cfg, &llm.FakeClient{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestGraphCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"graph", "--format", "mermaid", "--settings", t.TempDir() + "/none.json"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "intent_recognition -->|modify_scene| modify_scene")
	assert.Contains(t, out.String(), "apply_diff --> __end__")
}

package main

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServeFailsBeforeListeningOnBadPortalURL(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	port := freePort(t)
	t.Setenv("STORAGE_DIR", dir)
	t.Setenv("DB_PATH", filepath.Join(dir, "smsdesk.db"))
	t.Setenv("HTTP_PORT", strconv.Itoa(port))
	t.Setenv("MAILGATE_ENABLED", "false")
	t.Setenv("ORANGESMSPRO_URL", "not-a-url")

	prev := reconcileEvery
	reconcileEvery = time.Minute
	t.Cleanup(func() { reconcileEvery = prev })

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	err := runServe(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init orange client")

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
	}
	assert.Error(t, err, "nothing listens once serve has returned")
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRoster(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestProvisionAndShow(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("STAFFRATE_STORE_BACKEND", "redis")
	t.Setenv("STAFFRATE_REDIS_ADDR", mr.Addr())
	t.Setenv("STAFFRATE_CONFIG", "")

	path := writeRoster(t, "staff:\n  - id: 1\n    name: Ann\n  - id: 2\n    name: Bea\n")

	out, err := execute(t, "provision", "--roster", path)
	require.NoError(t, err)
	require.Contains(t, out, "provisioned 2 staff members")

	out, err = execute(t, "show")
	require.NoError(t, err)
	require.Contains(t, out, "leader To be determined")
	require.Contains(t, out, "Ann")
	require.Contains(t, out, "Bea")

	// Provisioning again keeps the version moving and does not fail.
	_, err = execute(t, "provision", "-r", path)
	require.NoError(t, err)
}

func TestProvisionRejectsMemoryBackend(t *testing.T) {
	t.Setenv("STAFFRATE_STORE_BACKEND", "memory")
	t.Setenv("STAFFRATE_CONFIG", "")

	path := writeRoster(t, "staff:\n  - id: 1\n    name: Ann\n")
	_, err := execute(t, "provision", "--roster", path)
	require.ErrorIs(t, err, errMemoryBackend)
}

func TestProvisionNeedsRoster(t *testing.T) {
	t.Setenv("STAFFRATE_STORE_BACKEND", "memory")
	t.Setenv("STAFFRATE_CONFIG", "")
	t.Setenv("STAFFRATE_ROSTER_PATH", "")

	_, err := execute(t, "provision")
	require.Error(t, err)
}

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	snap := model.Snapshot{Version: 7, Entities: []model.Entity{
		{ID: "1", Name: "Ann", RatingSum: 8, VoteCount: 2},
		{ID: "2", Name: "Bea"},
	}}
	require.NoError(t, printSnapshot(&out, snap))

	text := out.String()
	require.Contains(t, text, "version 7")
	require.Contains(t, text, "leader Ann (1) 4.00 from 2 votes")
	require.Contains(t, text, "AVERAGE")
	require.Contains(t, text, "-")
}

package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "dbvault/internal/errors"
	"dbvault/internal/health"
	"dbvault/internal/schedule"
)

const helperDump = `-- MySQL dump 10.13  Distrib 8.0.36, for Linux (x86_64)
--
-- Host: db    Database: shop
-- ------------------------------------------------------
DROP TABLE IF EXISTS ` + "`users`" + `;
CREATE TABLE ` + "`users`" + ` (` + "`id`" + ` int NOT NULL);
LOCK TABLES ` + "`users`" + ` WRITE;
INSERT INTO ` + "`users`" + ` VALUES (1),(2);
UNLOCK TABLES;
-- Dump completed on 2024-05-06  7:08:09
`

// TestHelperProcess is not a real test; it stands in for the dump tool
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("HELPER_MODE") {
	case "ok":
		if os.Getenv("MYSQL_PWD") != "secret" {
			fmt.Fprint(os.Stderr, "password not passed through environment")
			os.Exit(3)
		}
		args := strings.Join(os.Args, " ")
		if strings.Contains(args, "secret") {
			fmt.Fprint(os.Stderr, "password leaked on the command line")
			os.Exit(4)
		}
		fmt.Fprint(os.Stdout, helperDump)
	case "fail":
		fmt.Fprint(os.Stdout, "-- MySQL dump 10.13\n")
		fmt.Fprint(os.Stderr, "mysqldump: Got error: 1045: Access denied for user 'backup'@'10.0.0.1'")
		os.Exit(2)
	}
}

func helperCommand(mode string) CommandFactory {
	return func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
}

func externalSchedule(dir string) *schedule.Schedule {
	s := testSchedule(dir)
	s.Mode = schedule.ModeExternalTool
	return s
}

func TestExecutor_ExternalTool(t *testing.T) {
	connector := &mockConnector{}
	e := newTestExecutor(t, connector, DefaultOptions())
	e.command = helperCommand("ok")

	result, err := e.Execute(context.Background(), testTarget(), externalSchedule(t.TempDir()), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, connector.calls, "the external tool opens its own connection")

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, helperDump, string(data))

	healthy, details := health.Verify(result.Path, false)
	assert.True(t, healthy, details)
}

func TestExecutor_ExternalToolFailureCarriesStderr(t *testing.T) {
	e := newTestExecutor(t, &mockConnector{}, DefaultOptions())
	e.command = helperCommand("fail")
	sched := externalSchedule(t.TempDir())

	_, err := e.Execute(context.Background(), testTarget(), sched, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeExternalTool, apperrors.GetErrorType(err))
	assert.Contains(t, err.Error(), "Access denied")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 2, appErr.Context["exit_code"])

	partial := filepath.Join(sched.OutputDirectory, sched.ArtifactDir(), "shop_20240506_070809_123.sql")
	_, statErr := os.Stat(partial)
	assert.NoError(t, statErr)
}

func TestExecutor_ExternalToolMissingBinary(t *testing.T) {
	opts := DefaultOptions()
	opts.ExternalToolPath = filepath.Join(t.TempDir(), "no-such-mysqldump")
	e := newTestExecutor(t, &mockConnector{}, opts)

	_, err := e.Execute(context.Background(), testTarget(), externalSchedule(t.TempDir()), nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeExternalTool, apperrors.GetErrorType(err))
}

func TestExternalToolArgs(t *testing.T) {
	cfg := testTarget().Connection
	cfg.Database = "shop"
	args := ExternalToolArgs(cfg)

	assert.Contains(t, args, "--host=db")
	assert.Contains(t, args, "--port=3306")
	assert.Contains(t, args, "--user=backup")
	assert.Contains(t, args, "--single-transaction")
	assert.Equal(t, "shop", args[len(args)-1])
	for _, arg := range args {
		assert.NotContains(t, arg, "secret")
	}
}

func TestBoundedBuffer(t *testing.T) {
	b := &boundedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}

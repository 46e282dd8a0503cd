package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"dbvault/internal/database"
	apperrors "dbvault/internal/errors"
	"dbvault/internal/pause"
)

// MaxStderrCapture bounds the external tool's error output kept for reporting
const MaxStderrCapture = 64 * 1024

// CommandFactory builds the external process; tests replace it
type CommandFactory func(name string, args ...string) *exec.Cmd

func defaultCommand(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

// ExternalToolArgs returns the dump tool arguments for cfg. The password is
// passed through the environment, never on the command line.
func ExternalToolArgs(cfg database.DatabaseConfig) []string {
	cfg.SetDefaults()
	return []string{
		"--host=" + cfg.Host,
		"--port=" + strconv.Itoa(cfg.Port),
		"--user=" + cfg.Username,
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--default-character-set=utf8mb4",
		cfg.Database,
	}
}

// boundedBuffer keeps the first limit bytes written to it
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runExternal streams the external tool's stdout into path in fixed-size
// chunks, checking cancel and pause before each chunk.
func (e *Executor) runExternal(ctx context.Context, cfg database.DatabaseConfig, path string, token *pause.Token) error {
	cmd := e.command(e.options.ExternalToolPath, ExternalToolArgs(cfg)...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "MYSQL_PWD="+cfg.Password)

	stderr := &boundedBuffer{limit: MaxStderrCapture}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.NewExternalToolError(-1, "", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return apperrors.NewStreamingError("failed to create dump file", err)
	}
	defer f.Close()

	if err := cmd.Start(); err != nil {
		return apperrors.NewExternalToolError(-1, err.Error(), err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = cmd.Process.Kill()
	})
	defer stop()

	copyErr := e.copyChunks(ctx, f, stdout, token)
	if copyErr != nil {
		// unblock the tool if we stopped reading early
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return apperrors.NewCanceledError(ctx.Err())
	}
	if copyErr != nil {
		return copyErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return apperrors.NewExternalToolError(exitErr.ExitCode(), stderr.String(), waitErr)
		}
		return apperrors.NewExternalToolError(-1, stderr.String(), waitErr)
	}

	if err := f.Sync(); err != nil {
		return apperrors.NewStreamingError("failed to sync dump file", err)
	}
	if err := f.Close(); err != nil {
		return apperrors.NewStreamingError("failed to close dump file", err)
	}
	return nil
}

func (e *Executor) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, token *pause.Token) error {
	chunk := make([]byte, e.options.CopyChunkSize)
	for {
		if err := checkpoint(ctx, token); err != nil {
			return err
		}
		n, readErr := src.Read(chunk)
		if n > 0 {
			if _, err := dst.Write(chunk[:n]); err != nil {
				return apperrors.NewStreamingError("failed to write dump", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return apperrors.NewCanceledError(ctx.Err())
			}
			return apperrors.NewStreamingError("failed to read external tool output", readErr)
		}
	}
}

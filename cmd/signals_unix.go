//go:build unix

package cmd

import (
	"os"
	"syscall"
)

var pauseSignals = []os.Signal{syscall.SIGUSR1}

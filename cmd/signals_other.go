//go:build !unix

package cmd

import "os"

var pauseSignals []os.Signal

// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build !windows

package redisq

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// waitForSignals waits for a shutdown or stop signal. SIGTERM and SIGINT
// stop the wait; SIGTSTP calls Stop and keeps waiting, mirroring dramatiq's
// CLI convention of pausing consumption without exiting the process.
func (w *Worker) waitForSignals() {
	w.logger.Info("listening for signals...")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP)
	for {
		sig := <-sigs
		if sig == unix.SIGTSTP {
			w.Stop()
			continue
		}
		break
	}
}

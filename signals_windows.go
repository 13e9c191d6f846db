// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build windows

package redisq

import (
	"os"
	"os/signal"
)

// waitForSignals waits for an interrupt signal on Windows, where SIGTSTP
// has no equivalent.
func (w *Worker) waitForSignals() {
	w.logger.Info("listening for signals...")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	<-sigs
}

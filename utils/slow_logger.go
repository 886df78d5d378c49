package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"

	"go.viam.com/edukit/logging"
)

// Delays between the warnings of a SlowLogger.
const (
	slowFirstWarning  = 2 * time.Second
	slowSecondWarning = 3 * time.Second
	slowWarningPeriod = 5 * time.Second
)

// SlowLogger warns with msg while an operation is still running: 2s after the call, 3s later, and
// every 5s after that. Each warning carries keysAndValues and the elapsed time. The returned
// function stops the warnings and waits for the logging goroutine to exit.
func SlowLogger(
	ctx context.Context,
	clk clock.Clock,
	msg string,
	logger logging.Logger,
	keysAndValues ...interface{},
) func() {
	ctx, cancel := context.WithCancel(ctx)
	start := clk.Now()
	timer := clk.Timer(slowFirstWarning)
	done := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		defer close(done)
		defer timer.Stop()
		next := slowSecondWarning
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			timer.Reset(next)
			next = slowWarningPeriod
			elapsed := clk.Since(start).Round(time.Second)
			fields := make([]interface{}, 0, len(keysAndValues)+2)
			fields = append(fields, keysAndValues...)
			logger.CWarnw(ctx, msg, append(fields, "time_elapsed", elapsed.String())...)
		}
	})
	return func() {
		cancel()
		<-done
	}
}

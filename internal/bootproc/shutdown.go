package bootproc

import (
	"context"
	"time"

	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// ShutdownTimeout bounds how long any single shutdown hook may run before
// it is killed, per shutdown.py's "best effort, never block the shutdown"
// contract -- a stuck hook must never prevent the device from powering
// off.
const ShutdownTimeout = 10 * time.Second

// RunShutdownHooks executes each hook command with ShutdownTimeout,
// logging (but not propagating) failures, then records a shutdown event.
// Hooks run in order but each is independently bounded; a hung hook is
// killed and the remaining hooks still run.
func RunShutdownHooks(hooks []string, events *EventLog, timestamp int64) {
	log := logger.Logger()
	for _, hook := range hooks {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		if _, err := shell.ExecCmdContext(ctx, hook, true, "", nil, shell.DefaultGraceWindow); err != nil {
			log.Warnf("shutdown hook %q failed or timed out: %v", hook, err)
		}
		cancel()
	}
	if events != nil {
		if err := events.AddShutdown(timestamp); err != nil {
			log.Warnf("could not record shutdown event: %v", err)
		}
	}
}

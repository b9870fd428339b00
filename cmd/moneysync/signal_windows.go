package main

import "log/slog"

// notifyTrigger is a no-op: there is no SIGUSR1 on windows. Use the control
// socket instead.
func notifyTrigger(*slog.Logger, func()) (stop func()) {
	return func() {}
}

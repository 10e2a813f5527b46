package shared

import "log/slog"

// SideEffect reports the outcome of a best-effort companion write (audit
// trail, inventory reconciliation). The primary operation has already
// committed when a SideEffect carries an error; callers distinguish
// "succeeded with degraded side effects" from true failure through it.
type SideEffect struct {
	Name string
	Err  error
}

// Failed reports whether the side effect did not complete.
func (s SideEffect) Failed() bool { return s.Err != nil }

// LogSideEffects emits one structured record per failed side effect so the
// degradation is visible in logs rather than discarded.
func LogSideEffects(logger *slog.Logger, effects []SideEffect) {
	if logger == nil {
		return
	}
	for _, e := range effects {
		if e.Failed() {
			logger.Error("side effect failed", slog.String("effect", e.Name), slog.Any("error", e.Err))
		}
	}
}

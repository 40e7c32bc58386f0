// config.go holds the engine's ambient, process-wide knobs: the bounded
// spin budget BinaryState.Deactivate uses while waiting out a concurrent
// activator, the debug flag that controls whether errors capture a stack
// trace, and the zap.Logger the engine logs exceptional events to.
//
// Each knob follows the same "freeze after first use" rule: Configure*
// may be called any number of times before the first Path is built, but
// the instant any engine code actually reads the value, it latches and
// every later Configure* call is rejected with a UsageError. This mirrors
// a functional-options config object, generalized from "options passed
// once to New()" to "options settable any time before first use", since
// pathway has no single constructor call every user goes through.
//
// © 2025 pathway authors. MIT License.
package pathway

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lucent-dataflow/pathway/pkg/errs"
)

// SpinConfig bounds the busy-wait a mapped-edge BinaryState performs in
// Deactivate while a concurrent activator is mid-flight.
type SpinConfig struct {
	// Tries is the number of state polls per round before parking.
	Tries int
	// ParkNanos is how long to sleep between rounds.
	ParkNanos int64
	// MaxRounds is the number of rounds before giving up with a
	// TimeoutError.
	MaxRounds int
}

var defaultSpin = SpinConfig{Tries: 3200, ParkNanos: 250_000, MaxRounds: 8}

var (
	spinValue  atomic.Pointer[SpinConfig]
	spinFrozen atomic.Bool
)

// ConfigureSpin overrides the default spin budget. It must be called
// before any Path is built; once the engine has read the spin config once,
// this returns a UsageError.
func ConfigureSpin(cfg SpinConfig) error {
	if spinFrozen.Load() {
		return errs.NewUsageViolation("pathway: spin config already frozen", Debug())
	}
	spinValue.Store(&cfg)
	return nil
}

// currentSpin returns the effective spin config, freezing it against
// further ConfigureSpin calls.
func currentSpin() SpinConfig {
	spinFrozen.Store(true)
	if v := spinValue.Load(); v != nil {
		return *v
	}
	return defaultSpin
}

var (
	debugValue  atomic.Bool
	debugFrozen atomic.Bool
)

// SetDebug toggles whether captured errors include a stack trace. Like
// ConfigureSpin, it freezes on first read.
func SetDebug(v bool) error {
	if debugFrozen.Load() {
		return errs.NewUsageViolation("pathway: debug flag already frozen", Debug())
	}
	debugValue.Store(v)
	return nil
}

// Debug returns the current debug flag, freezing it against further
// SetDebug calls.
func Debug() bool {
	debugFrozen.Store(true)
	return debugValue.Load()
}

var (
	loggerValue  atomic.Pointer[zap.Logger]
	loggerFrozen atomic.Bool
)

// ConfigureLogger plugs an external zap.Logger the engine logs exceptional
// events to (a panic inside a user-supplied map/merge function, and a
// switch-map mapper returning a nil path). Freezes on first read. It is a process-wide ambient
// setting rather than a per-Cache option, since a Path tree has no single
// New() call to thread it through.
func ConfigureLogger(l *zap.Logger) error {
	if loggerFrozen.Load() {
		return errs.NewUsageViolation("pathway: logger already frozen", Debug())
	}
	if l != nil {
		loggerValue.Store(l)
	}
	return nil
}

// currentLogger returns the effective logger, freezing it against further
// ConfigureLogger calls. Defaults to zap.NewNop().
func currentLogger() *zap.Logger {
	loggerFrozen.Store(true)
	if v := loggerValue.Load(); v != nil {
		return v
	}
	return zap.NewNop()
}

package exception

import (
	"os"
	"runtime/debug"

	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/monitoring"
)

// SafeGo runs fn in a goroutine and logs any panic instead of crashing.
func SafeGo(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// SafeGoWithPanic is SafeGo for goroutines the process cannot live without,
// such as the RPC listener. A panic is logged and the process exits.
func SafeGoWithPanic(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", name, ": ", r, "\n", string(debug.Stack()))
				os.Exit(1)
			}
		}()
		fn()
	}()
}

// Recover must be deferred directly. It swallows the panic after logging it.
func Recover(name string) {
	if r := recover(); r != nil {
		monitoring.IncreasePanicCount()
		logx.Error("PANIC", name, ": ", r, "\n", string(debug.Stack()))
	}
}

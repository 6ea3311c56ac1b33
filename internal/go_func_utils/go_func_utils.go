package go_func_utils

import "runtime/debug"
import "log"

// SafeGo runs fn on a new goroutine and logs any panic (with stack) to the
// injected logger before re-panicking. The process log is a rotating file,
// so a bare panic on a background goroutine would otherwise be easy to miss.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}

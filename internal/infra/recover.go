package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f, restarting it in a fresh goroutine when it panics.
// A negative maxPanics restarts without limit; reaching zero exits the
// process.
func GoRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		entry := log.WithField("job", id)
		entry.Errorf("panic: %v at %s", r, identifyPanic())
		if maxPanics == 0 {
			entry.Fatal("panic limit exceeded, exiting")
		}
		if maxPanics > 0 {
			maxPanics--
		}
		entry.WithField("panics_left", maxPanics).Debug("restarting job")
		go GoRecoverable(maxPanics, id, f)
	}()
	f()
}

// identifyPanic walks the stack past the runtime frames to the site of the
// panic.
func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}

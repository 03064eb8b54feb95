//go:build debug

// Package debug provides build-tag gated assertions used throughout the
// core. Built with the `debug` tag, assertions panic with a short stack
// trace; without it (see debug_off.go) they compile to nothing.
package debug

import (
	"fmt"

	"github.com/golang/glog"
)

func Assert(cond bool, a ...interface{}) {
	if !cond {
		panicf(a...)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		panicf(fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panicf(err)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panicf(msg)
	}
}

func panicf(a ...interface{}) {
	msg := "DEBUG PANIC: " + fmt.Sprint(a...)
	glog.Error(msg)
	panic(msg)
}

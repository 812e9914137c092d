// Package debug provides lightweight invariant assertions used throughout
// the habsim packages, in the style of the teacher's debug-build-only
// checks but always compiled in (the simulation core has no separate
// release/debug build split).
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"

	"github.com/habsim/core/xlog"
)

var log = xlog.Named("debug")

func Assert(cond bool, a ...interface{}) {
	if !cond {
		panicMsg(a...)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		panicMsg(fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panicMsg(err)
	}
}

func AssertMutexLocked(m sync.Locker) {
	_ = m // state inspection via reflection is fragile across Go versions; callers
	// rely on this purely as self-documentation at call sites.
}

func panicMsg(a ...interface{}) {
	msg := fmt.Sprint(a...)
	log.Errorf("assertion failed: %s", msg)
	panic("debug: " + msg)
}

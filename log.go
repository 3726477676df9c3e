// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

// logging functions

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

const name = "velox"

// internal constants
const (
	pWARN  = "WARNING: " + name + ": "
	pERR   = "ERROR: " + name + ": "
	pBUG   = "BUG: " + name + ": "
	pPANIC = name + ": "
)

// Log is the generic log used throughout the package.
var Log slog.Log = slog.New(slog.LDBG, slog.LbackTraceS|slog.LlocInfoS,
	slog.LStdErr)

// WARNon reports whether logging at LWARN level is enabled.
func WARNon() bool { return Log.WARNon() }

// WARN logs a warning message, e.g. the oversize-slab-request case in
// newSlab.
func WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, pWARN, f, a...)
}

// ERRon reports whether logging at LERR level is enabled.
func ERRon() bool { return Log.ERRon() }

// ERR logs an error message.
func ERR(f string, a ...interface{}) {
	Log.LLog(slog.LERR, 1, pERR, f, a...)
}

// BUG logs a bug message for conditions that indicate corrupted
// internal state but that the caller chooses not to treat as fatal.
func BUG(f string, a ...interface{}) {
	Log.LLog(slog.LBUG, 1, pBUG, f, a...)
}

// PANIC logs and panics. It backs every contract-violation error in
// this package: nested writes, out-of-range positions, malformed
// boundary tags, and unknown pointers handed to the oversize free
// path. None of these are expected in correct use; recovery is not
// attempted.
func PANIC(f string, a ...interface{}) {
	s := fmt.Sprintf(pPANIC+f, a...)
	Log.LLog(slog.LBUG, 1, "", "%s", s)
	panic(s)
}

// check panics with msg (formatted with args) if cond is false. It is
// the assertion helper the rest of the package uses for contract
// checks that should never fire in correct use.
func check(cond bool, msg string, args ...interface{}) {
	if !cond {
		PANIC(msg, args...)
	}
}

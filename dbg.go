// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package velox

import "github.com/intuitivelabs/slog"

// Options encodes optional, non-correctness-affecting behavior. The
// structural invariants are always enforced by Arena.CheckConsistency
// regardless of Options; Options only controls extra verbosity and
// verification cost.
type Options uint32

const (
	// Debug enables extra logging of block state on alloc/free.
	Debug Options = 1 << iota
	// Checks enables a full CheckConsistency pass after every
	// allocate/free. Expensive; intended for tests, not production use.
	Checks

	DefaultOptions = 0
)

func (a *Arena) debugLog(op string, h *Header) {
	if a.options&Debug == 0 {
		return
	}
	Log.LLog(slog.LDBG, 0, "DBG: "+name+" ",
		"%s: header=%p size=%d free=%v continued=%v\n",
		op, h, h.size(), h.isFree(), h.isContinued())
}

// SPDX-License-Identifier: MIT

// Package sipstack wraps sipgo: the listener, the SUBSCRIBE/NOTIFY/PUBLISH
// handlers that convert requests into dispatch events, and the outbound
// primitives (respond-to-SUBSCRIBE, send-NOTIFY) the workers call back into.
package sipstack

import (
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
)

// DialogHandle is the write-back capability attached to an incoming
// SUBSCRIBE. It pins the server transaction, the request it answers, the
// local tag we minted for the dialog and the subscriber's contact as the
// NOTIFY target. Exactly one worker owns it; Release drops the pin on the
// terminal lifecycle transition.
type DialogHandle struct {
	req      *sip.Request
	tx       sip.ServerTransaction
	localTag string

	remoteTarget sip.Uri
	hasTarget    bool

	released atomic.Bool
}

// Release marks the handle dead. Responding through a released handle is
// refused, which protects against a worker bug replying into a dialog that
// already terminated.
func (h *DialogHandle) Release() {
	h.released.Store(true)
}

// LocalTag returns the to-tag this side minted for the dialog.
func (h *DialogHandle) LocalTag() string { return h.localTag }

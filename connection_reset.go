// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import (
	"fmt"

	"github.com/nishisan-dev/nbolt/internal/codec"
)

// Reset is the only operation safe to call from a goroutine other than the
// one driving Sync/Run/PullAll/DiscardAll/Close. It writes a RESET message
// immediately, bypassing the request queue, then sets reset_requested. If
// no processing is currently active it runs the reset drain itself;
// otherwise the active Sync call observes the flag and runs the drain on
// its next iteration.
func (c *Connection) Reset() error {
	if c.isFailed() {
		return errSessionFailed
	}
	if err := c.writeMessage(codec.Message{Signature: sigReset, Argv: nil}); err != nil {
		c.fail(err)
		return newErr("Reset", CodeConnectionClosed, err)
	}
	c.resetRequested.Store(true)

	if c.processing.CompareAndSwap(false, true) {
		defer c.processing.Store(false)
		c.runResetDrain()
	}
	return nil
}

// runResetDrain implements §4.6's reset drain: notify jobs, consume
// replies to already-inflight requests (expecting IGNORED; mismatches are
// logged but not fatal), receive the single SUCCESS for RESET itself (a
// non-SUCCESS reply here is fatal), then drain any requests still queued.
func (c *Connection) runResetDrain() {
	c.notifyJobs(CodeSessionReset)

	for c.inflightCount > 0 {
		msg, err := c.readMessage()
		if err != nil {
			c.fail(wrapCodecErr("reset-drain", err))
			return
		}
		if c.queue.depth == 0 {
			break
		}
		head := c.queue.at(0)
		if msg.Signature != sigIgnored {
			c.logger.Warn("non-IGNORED reply while draining inflight requests during reset", "signature", fmt.Sprintf("0x%02X", msg.Signature))
		}
		head.deliver(Response{Kind: ResponseIgnored})
		c.popHead()
	}

	msg, err := c.readMessage()
	if err != nil {
		c.fail(wrapCodecErr("reset-drain", err))
		return
	}
	if msg.Signature != sigSuccess {
		c.fail(newErr("reset-drain", CodeUnexpectedError, fmt.Errorf("RESET expected SUCCESS, got 0x%02X", msg.Signature)))
		return
	}

	c.drainQueued(ResponseDrained, nil)

	c.failureDraining = false
	c.ackFailurePending = false
	c.resetRequested.Store(false)
	c.setState(stateReady)
}

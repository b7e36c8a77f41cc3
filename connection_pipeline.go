// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import (
	"fmt"

	"github.com/nishisan-dev/nbolt/internal/codec"
)

// enqueue appends a Request to the queue. It fails with SessionFailed if
// the connection has failed, or NoBufs if the queue is full.
func (c *Connection) enqueue(sig byte, argv []Value, cb ReceiveCallback) (*Request, error) {
	if c.isFailed() {
		return nil, errSessionFailed
	}
	req := &Request{Signature: sig, Argv: argv, Callback: cb}
	if !c.queue.push(req) {
		return nil, errNoBufs
	}
	return req, nil
}

// Run enqueues a RUN message for the given statement and parameters.
func (c *Connection) Run(statement string, params map[string]Value, cb ReceiveCallback) error {
	if params == nil {
		params = map[string]Value{}
	}
	_, err := c.enqueue(sigRun, []Value{statement, params}, cb)
	return err
}

// PullAll enqueues a PULL_ALL message, streaming every remaining record of
// the prior RUN's result.
func (c *Connection) PullAll(cb ReceiveCallback) error {
	_, err := c.enqueue(sigPullAll, nil, cb)
	return err
}

// DiscardAll enqueues a DISCARD_ALL message, discarding the remainder of
// the prior RUN's result without streaming it.
func (c *Connection) DiscardAll(cb ReceiveCallback) error {
	_, err := c.enqueue(sigDiscardAll, nil, cb)
	return err
}

// Sync drives the request queue: it is gated by the processing flag, so a
// concurrent entrant receives SessionBusy. maxResponses bounds how many
// responses this call will consume before returning; 0 means "until the
// queue fully drains". Sync returns SessionReset if a Reset was observed
// mid-drive, after completing the reset drain.
func (c *Connection) Sync(maxResponses int) error {
	if !c.processing.CompareAndSwap(false, true) {
		return errSessionBusy
	}
	defer c.processing.Store(false)

	if c.isFailed() {
		return errSessionFailed
	}

	unbounded := maxResponses <= 0
	for unbounded || maxResponses > 0 {
		if c.resetRequested.Load() {
			c.runResetDrain()
			return errSessionReset
		}

		if err := c.fillPipeline(); err != nil {
			c.fail(err)
			return err
		}
		if c.queue.depth == 0 && c.inflightCount == 0 {
			return nil
		}

		if err := c.receiveOne(); err != nil {
			c.fail(err)
			return err
		}
		if !unbounded {
			maxResponses--
		}
	}
	return nil
}

// fillPipeline sends queued-but-not-yet-sent requests up to
// max_pipelined_requests. It does not send while draining a FAILURE,
// since the server will not accept new requests until ACK_FAILURE's
// SUCCESS is received.
func (c *Connection) fillPipeline() error {
	if c.failureDraining {
		return nil
	}
	maxInflight := c.cfg.MaxPipelinedRequests
	for c.inflightCount < c.queue.depth && c.inflightCount < maxInflight {
		req := c.queue.at(c.inflightCount)
		if err := c.sendRequest(req); err != nil {
			return err
		}
		c.inflightCount++
	}
	return nil
}

func (c *Connection) sendRequest(req *Request) error {
	return c.writeMessage(codec.Message{Signature: req.Signature, Argv: req.Argv})
}

// receiveOne reads one server message and dispatches it to the
// head-of-queue request, per the rules of §4.6's processing loop.
func (c *Connection) receiveOne() error {
	msg, err := c.readMessage()
	if err != nil {
		return wrapCodecErr("receive", err)
	}

	if c.failureDraining {
		return c.receiveDuringFailureDrain(msg)
	}

	if c.queue.depth == 0 {
		return newErr("receive", CodeUnexpectedError, fmt.Errorf("message received with no request in flight"))
	}
	head := c.queue.at(0)

	switch msg.Signature {
	case sigRecord:
		head.deliver(Response{Kind: ResponseRecord, Data: soleArg(msg.Argv)})
		return nil
	case sigSuccess:
		head.deliver(Response{Kind: ResponseSuccess, Data: soleArg(msg.Argv)})
		c.popHead()
		return nil
	case sigIgnored:
		head.deliver(Response{Kind: ResponseIgnored})
		c.popHead()
		return nil
	case sigFailure:
		head.deliver(Response{Kind: ResponseFailure, Data: soleArg(msg.Argv)})
		c.popHead()
		c.failureDraining = true
		c.setState(stateFailureDraining)
		if c.inflightCount == 0 {
			return c.sendAckFailure()
		}
		return nil
	default:
		return newErr("receive", CodeUnexpectedError, fmt.Errorf("unexpected message signature 0x%02X", msg.Signature))
	}
}

// receiveDuringFailureDrain expects IGNORED for every already-inflight
// request, then (once inflight has reached zero and ACK_FAILURE was sent)
// expects exactly one SUCCESS. Anything else is a fatal protocol error.
func (c *Connection) receiveDuringFailureDrain(msg codec.Message) error {
	if c.ackFailurePending {
		if msg.Signature != sigSuccess {
			return newErr("receive", CodeUnexpectedError, fmt.Errorf("ACK_FAILURE expected SUCCESS, got 0x%02X", msg.Signature))
		}
		c.ackFailurePending = false
		c.failureDraining = false
		c.inflightCount--
		c.setState(stateReady)
		return nil
	}

	if msg.Signature != sigIgnored {
		return newErr("receive", CodeUnexpectedError, fmt.Errorf("expected IGNORED during failure drain, got 0x%02X", msg.Signature))
	}
	if c.queue.depth == 0 {
		return newErr("receive", CodeUnexpectedError, fmt.Errorf("IGNORED received with no request in flight"))
	}
	head := c.queue.at(0)
	head.deliver(Response{Kind: ResponseIgnored})
	c.popHead()

	if c.inflightCount == 0 {
		return c.sendAckFailure()
	}
	return nil
}

func (c *Connection) sendAckFailure() error {
	if err := c.writeMessage(codec.Message{Signature: sigAckFailure, Argv: nil}); err != nil {
		return err
	}
	c.ackFailurePending = true
	c.inflightCount++
	return nil
}

func (c *Connection) popHead() {
	c.queue.pop()
	c.inflightCount--
}

// drainInflight delivers kind to every in-flight request's callback
// without touching the wire, then resets the in-flight counter. Used when
// tearing a connection down outside the normal receive path.
func (c *Connection) drainInflight(kind ResponseKind, data Value) {
	for i := 0; i < c.inflightCount; i++ {
		c.queue.at(i).deliver(Response{Kind: kind, Data: data})
	}
	for i := 0; i < c.inflightCount; i++ {
		c.queue.pop()
	}
	c.inflightCount = 0
}

// drainQueued delivers kind to every request still waiting in the queue
// (none of which were ever sent), then empties the queue.
func (c *Connection) drainQueued(kind ResponseKind, data Value) {
	for c.queue.depth > 0 {
		c.queue.pop().deliver(Response{Kind: kind, Data: data})
	}
}

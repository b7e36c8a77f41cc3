// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

// Job is a higher-level scope (typically one logical statement's worth of
// requests) that wants to know when its connection closes or resets out
// from under it, independent of any individual request callback. Jobs
// attach to a Connection and are notified before any drain touches the
// requests they logically own.
type Job struct {
	conn *Connection
	prev *Job
	next *Job

	onAbort func(code Code)
}

// NewJob creates a Job attached to conn. onAbort is invoked at most once,
// with CodeSessionEnded on close or CodeSessionReset on reset, before the
// connection notifies any request callbacks for the same event.
func NewJob(conn *Connection, onAbort func(code Code)) *Job {
	j := &Job{conn: conn, onAbort: onAbort}
	conn.attachJob(j)
	return j
}

// Detach removes the job from its connection's notification list. Safe to
// call multiple times or after the job has already been notified.
func (j *Job) Detach() {
	if j.conn == nil {
		return
	}
	j.conn.detachJob(j)
	j.conn = nil
}

func (c *Connection) attachJob(j *Job) {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	j.next = c.jobs
	if c.jobs != nil {
		c.jobs.prev = j
	}
	c.jobs = j
}

func (c *Connection) detachJob(j *Job) {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()
	if j.prev != nil {
		j.prev.next = j.next
	} else if c.jobs == j {
		c.jobs = j.next
	}
	if j.next != nil {
		j.next.prev = j.prev
	}
	j.prev, j.next = nil, nil
}

// notifyJobs invokes onAbort(code) on every currently attached job, then
// detaches all of them. Jobs attached by an onAbort callback mid-notify
// are not visited by this call.
func (c *Connection) notifyJobs(code Code) {
	c.jobsMu.Lock()
	head := c.jobs
	c.jobs = nil
	c.jobsMu.Unlock()

	for j := head; j != nil; {
		next := j.next
		j.prev, j.next = nil, nil
		if j.onAbort != nil {
			j.onAbort(code)
		}
		j = next
	}
}

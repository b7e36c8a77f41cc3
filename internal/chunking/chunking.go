// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package chunking

import (
	"fmt"
)

// ChunkingStream frames Bolt messages over a delegate ByteStream as
// described by spec.md §4.3:
//
//	chunk = u16-big-endian length (1..=65535) || <length> payload bytes
//	msg   = chunk+ || u16 0x0000
//
// Writes accumulate in a staging buffer. Once the pending total reaches
// minChunk it is emitted as chunks of at most maxChunk bytes; a remainder
// shorter than minChunk stays staged until a later write, EndMessage, or
// Close forces it out.
type ChunkingStream struct {
	delegate ByteStream
	minChunk int
	maxChunk int

	pending []byte
	sentAny bool // true once any chunk has been written for the current outbound message

	// receive side
	rcvChunkRemaining int // 0 = read next length; negative = end of message seen, until BeginMessage
	rcvErr            error // sticky: once set, every Read returns it
}

// NewChunkingStream creates a ChunkingStream with the given (min, max)
// chunk sizes, 0 < minChunk <= maxChunk <= 65535.
func NewChunkingStream(delegate ByteStream, minChunk, maxChunk int) *ChunkingStream {
	if minChunk <= 0 || maxChunk < minChunk || maxChunk > 0xFFFF {
		panic("chunking: invalid (minChunk, maxChunk)")
	}
	return &ChunkingStream{
		delegate: delegate,
		minChunk: minChunk,
		maxChunk: maxChunk,
		pending:  make([]byte, 0, minChunk),
	}
}

// Write accumulates data for the current outbound message, emitting
// max_chunk-sized wire chunks once the pending total reaches min_chunk.
func (c *ChunkingStream) Write(buf []byte) (int, error) {
	total := len(buf)
	c.pending = append(c.pending, buf...)
	for len(c.pending) >= c.minChunk {
		n := len(c.pending)
		if n > c.maxChunk {
			n = c.maxChunk
		}
		if err := c.writeChunk(c.pending[:n]); err != nil {
			return total - len(buf), err
		}
		c.pending = c.pending[n:]
	}
	return total, nil
}

func (c *ChunkingStream) writeChunk(payload []byte) error {
	hdr := []byte{byte(len(payload) >> 8), byte(len(payload))}
	if err := WriteAll(c.delegate, hdr); err != nil {
		return err
	}
	if err := WriteAll(c.delegate, payload); err != nil {
		return err
	}
	c.sentAny = true
	return nil
}

// EndMessage closes out the current outbound message: any remaining
// staged data is emitted as a final short chunk (even if it never reached
// min_chunk), followed by the 0x0000 terminator, then the delegate is
// flushed. Per spec.md §4.3 the terminator is only required when at least
// one chunk was sent this message or the staging buffer is non-empty —
// EndMessage on an otherwise idle stream emits nothing.
func (c *ChunkingStream) EndMessage() error {
	if len(c.pending) > 0 || c.sentAny {
		if len(c.pending) > 0 {
			if err := c.writeChunk(c.pending); err != nil {
				return err
			}
			c.pending = c.pending[:0]
		}
		if err := WriteAll(c.delegate, []byte{0x00, 0x00}); err != nil {
			return err
		}
	}
	c.sentAny = false
	return c.delegate.Flush()
}

// Close flushes any outstanding message and closes the delegate.
func (c *ChunkingStream) Close() error {
	err := c.EndMessage()
	if cerr := c.delegate.Close(); err == nil {
		err = cerr
	}
	return err
}

// Read returns the next slice of message-contiguous payload bytes,
// transparently crossing chunk boundaries within one logical message. It
// returns (0, nil) once the terminator has been observed; the caller must
// call BeginMessage before reading the next message.
func (c *ChunkingStream) Read(buf []byte) (int, error) {
	if c.rcvErr != nil {
		return 0, c.rcvErr
	}
	if c.rcvChunkRemaining < 0 {
		// end-of-message observed; stay at 0 until BeginMessage resets us.
		return 0, nil
	}
	if c.rcvChunkRemaining == 0 {
		length, err := c.readChunkLength()
		if err != nil {
			c.rcvErr = err
			return 0, err
		}
		if length == 0 {
			c.rcvChunkRemaining = -1
			return 0, nil
		}
		c.rcvChunkRemaining = length
	}
	n := len(buf)
	if n > c.rcvChunkRemaining {
		n = c.rcvChunkRemaining
	}
	if err := ReadAll(c.delegate, buf[:n]); err != nil {
		c.rcvErr = err
		return 0, err
	}
	c.rcvChunkRemaining -= n
	if c.rcvChunkRemaining == 0 {
		// Transparently advance to the next chunk's length so the caller
		// keeps seeing message-contiguous bytes until the terminator.
		length, err := c.readChunkLength()
		if err != nil {
			c.rcvErr = err
			return n, err
		}
		if length == 0 {
			c.rcvChunkRemaining = -1
		} else {
			c.rcvChunkRemaining = length
		}
	}
	return n, nil
}

func (c *ChunkingStream) readChunkLength() (int, error) {
	var hdr [2]byte
	if err := ReadAll(c.delegate, hdr[:]); err != nil {
		return 0, fmt.Errorf("chunking: reading chunk length: %w", err)
	}
	return int(hdr[0])<<8 | int(hdr[1]), nil
}

// BeginMessage resets the receive side so the next Read starts a fresh
// logical message.
func (c *ChunkingStream) BeginMessage() {
	if c.rcvErr == nil {
		c.rcvChunkRemaining = 0
	}
}

// AtMessageEnd reports whether the last Read observed the zero-length
// terminator (end of the current logical message).
func (c *ChunkingStream) AtMessageEnd() bool {
	return c.rcvChunkRemaining < 0
}

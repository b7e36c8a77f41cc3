// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package chunking

// BufferingStream wraps a delegate ByteStream with fixed-size read and
// write buffers (spec.md §4.2). Either may be sized zero, but not both —
// a BufferingStream with no buffering at all is pointless and is rejected
// by NewBufferingStream.
type BufferingStream struct {
	delegate ByteStream
	owns     bool

	rbuf    []byte
	rstart  int
	rend    int
	rcap    int
	wbuf    []byte
	wlen    int
	wcap    int
	closed  bool
}

// NewBufferingStream creates a BufferingStream over delegate. readSize or
// writeSize (not both) may be zero to disable buffering on that side. If
// owns is true, Close cascades to the delegate.
func NewBufferingStream(delegate ByteStream, readSize, writeSize int, owns bool) *BufferingStream {
	if readSize == 0 && writeSize == 0 {
		panic("chunking: BufferingStream requires a non-zero read or write buffer")
	}
	bs := &BufferingStream{delegate: delegate, owns: owns, rcap: readSize, wcap: writeSize}
	if readSize > 0 {
		bs.rbuf = make([]byte, readSize)
	}
	if writeSize > 0 {
		bs.wbuf = make([]byte, writeSize)
	}
	return bs
}

// Read serves from the in-buffer when it has data; otherwise, for requests
// at or above buffer capacity it bypasses the buffer entirely, and for
// smaller requests it refills the buffer once from the delegate and serves
// from that.
func (b *BufferingStream) Read(buf []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if b.rstart < b.rend {
		n := copy(buf, b.rbuf[b.rstart:b.rend])
		b.rstart += n
		return n, nil
	}
	if b.rcap == 0 || len(buf) >= b.rcap {
		return b.delegate.Read(buf)
	}
	n, err := b.delegate.Read(b.rbuf)
	if n > 0 {
		b.rstart = 0
		b.rend = n
		copied := copy(buf, b.rbuf[:n])
		b.rstart = copied
		return copied, err
	}
	return 0, err
}

// Write accumulates small writes into the pending write buffer; a write
// that would overflow it first flushes the pending buffer, then buffers or
// bypasses the new data by the same size rule Read uses.
func (b *BufferingStream) Write(buf []byte) (int, error) {
	if b.closed {
		return 0, ErrClosed
	}
	if b.wcap == 0 {
		return b.delegate.Write(buf)
	}
	total := 0
	for len(buf) > 0 {
		space := b.wcap - b.wlen
		if len(buf) > space && b.wlen > 0 {
			if err := b.flushWriteBuffer(); err != nil {
				return total, err
			}
			space = b.wcap
		}
		if b.wlen == 0 && len(buf) >= b.wcap {
			n, err := b.delegate.Write(buf)
			total += n
			if err != nil {
				return total, err
			}
			buf = buf[n:]
			continue
		}
		n := copy(b.wbuf[b.wlen:b.wlen+min(space, len(buf))], buf)
		b.wlen += n
		total += n
		buf = buf[n:]
	}
	return total, nil
}

// Flush empties the pending write buffer to the delegate and flushes the
// delegate in turn.
func (b *BufferingStream) Flush() error {
	if b.closed {
		return ErrClosed
	}
	if err := b.flushWriteBuffer(); err != nil {
		return err
	}
	return b.delegate.Flush()
}

func (b *BufferingStream) flushWriteBuffer() error {
	if b.wlen == 0 {
		return nil
	}
	if err := WriteAll(b.delegate, b.wbuf[:b.wlen]); err != nil {
		return err
	}
	b.wlen = 0
	return nil
}

// Close flushes any pending write data and, if this stream owns its
// delegate, closes it too.
func (b *BufferingStream) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.flushWriteBuffer()
	if b.owns {
		if cerr := b.delegate.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

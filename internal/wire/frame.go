// internal/wire/frame.go
package wire

// Framer buffers bytes from a stream and yields complete packets as their
// Length becomes available. It performs no I/O itself — callers feed it
// whatever a socket read returned, in whatever chunk sizes arrived.
type Framer struct {
	buf []byte
}

// Feed appends newly read bytes to the framer's internal buffer.
func (f *Framer) Feed(b []byte) {
	f.buf = append(f.buf, b...)
}

// Next extracts and decodes the next complete packet, if one is fully
// buffered. ok is false if fewer than HeaderSize bytes, or fewer than
// Length bytes, are currently available — this is not an error, just
// "come back after the next read".
func (f *Framer) Next() (p *Packet, ok bool, err error) {
	if len(f.buf) < HeaderSize {
		return nil, false, nil
	}
	length, perr := PeekLength(f.buf)
	if perr != nil {
		return nil, false, nil
	}
	if int(length) < HeaderSize {
		// Structural corruption: length claims less than a header. The
		// framer can't resynchronize, so surface it as fatal.
		return nil, false, decodeErr("bad-payload", "length %d shorter than header", length)
	}
	if len(f.buf) < int(length) {
		return nil, false, nil
	}

	slice := f.buf[:length]
	pkt, derr := Decode(slice)
	f.buf = f.buf[length:]
	if derr != nil {
		return nil, true, derr
	}
	return pkt, true, nil
}

// Pending reports how many bytes are buffered but not yet consumed.
func (f *Framer) Pending() int { return len(f.buf) }

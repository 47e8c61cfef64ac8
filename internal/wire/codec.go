// internal/wire/codec.go
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// DecodeError is returned by Decode; Kind lets callers distinguish
// protocol-fatal errors from addressable ones without string matching.
type DecodeError struct {
	Kind string
	Msg  string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("wire: %s: %s", e.Kind, e.Msg) }

func decodeErr(kind, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// PeekLength reads the Length field out of a buffer that holds at least
// HeaderSize bytes, without validating anything else. Callers use this to
// decide how many more bytes to buffer before calling Decode.
func PeekLength(buf []byte) (uint16, error) {
	if len(buf) < HeaderSize {
		return 0, decodeErr("short-buffer", "need %d header bytes, have %d", HeaderSize, len(buf))
	}
	return binary.BigEndian.Uint16(buf[3:5]), nil
}

// Decode parses a buffer whose first HeaderSize bytes are a header and
// whose total length is exactly the header's Length field. Decode does
// not perform I/O and does not consult anything outside buf.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, decodeErr("short-buffer", "need %d bytes, have %d", HeaderSize, len(buf))
	}

	h := Header{
		Version:   buf[0],
		Type:      Type(buf[1]),
		Sequence:  buf[2],
		Length:    binary.BigEndian.Uint16(buf[3:5]),
		Timestamp: binary.BigEndian.Uint32(buf[5:9]),
	}

	if h.Version != ProtocolVersion {
		return nil, decodeErr("bad-version", "got %d, want %d", h.Version, ProtocolVersion)
	}
	if int(h.Length) < HeaderSize {
		return nil, decodeErr("bad-payload", "length %d shorter than header", h.Length)
	}
	if len(buf) != int(h.Length) {
		return nil, decodeErr("short-buffer", "have %d bytes, header declares %d", len(buf), h.Length)
	}

	payload := buf[HeaderSize:]
	p := &Packet{Header: h}

	switch h.Type {
	case TypeESTOP, TypeDISCOVERY, TypeTIMESYNC, TypeSTATUSREQUEST,
		TypeSTREAMSTOP, TypeGETSINGLE, TypeHEARTBEAT:
		if len(payload) != 0 {
			return nil, decodeErr("bad-payload", "%s takes no payload, got %d bytes", h.Type, len(payload))
		}

	case TypeCONTROL:
		if len(payload) != 2 {
			return nil, decodeErr("bad-payload", "CONTROL wants 2 bytes, got %d", len(payload))
		}
		p.ControlID = payload[0]
		p.ControlState = ControlState(payload[1])
		if !p.ControlState.valid() {
			return nil, decodeErr("bad-payload", "invalid control state %d", payload[1])
		}

	case TypeSTREAMSTART:
		if len(payload) != 2 {
			return nil, decodeErr("bad-payload", "STREAM_START wants 2 bytes, got %d", len(payload))
		}
		p.FrequencyHz = binary.BigEndian.Uint16(payload)

	case TypeCONFIG:
		if len(payload) < 4 {
			return nil, decodeErr("bad-payload", "CONFIG wants >=4 bytes, got %d", len(payload))
		}
		n := binary.BigEndian.Uint32(payload[0:4])
		if uint32(len(payload)-4) != n {
			return nil, decodeErr("bad-payload", "CONFIG json_length %d but %d bytes follow", n, len(payload)-4)
		}
		body := payload[4:]
		if !json.Valid(body) {
			return nil, decodeErr("bad-payload", "CONFIG body is not valid JSON")
		}
		p.ConfigJSON = append([]byte(nil), body...)

	case TypeDATA:
		if len(payload) < 1 {
			return nil, decodeErr("bad-payload", "DATA wants >=1 byte, got 0")
		}
		count := int(payload[0])
		rest := payload[1:]
		const readingSize = 6 // sensor_id(1) + unit(1) + float32(4)
		if len(rest) != count*readingSize {
			return nil, decodeErr("bad-payload", "DATA count %d but %d bytes of readings", count, len(rest))
		}
		readings := make([]Reading, count)
		for i := 0; i < count; i++ {
			off := i * readingSize
			unit := Unit(rest[off+1])
			if !unit.valid() {
				return nil, decodeErr("bad-payload", "reading %d has invalid unit %d", i, rest[off+1])
			}
			bits := binary.BigEndian.Uint32(rest[off+2 : off+6])
			readings[i] = Reading{
				SensorID: rest[off],
				Unit:     unit,
				Value:    float32FromBits(bits),
			}
		}
		p.Readings = readings

	case TypeSTATUS:
		if len(payload) != 1 {
			return nil, decodeErr("bad-payload", "STATUS wants 1 byte, got %d", len(payload))
		}
		status := DeviceStatus(payload[0])
		if !status.valid() {
			return nil, decodeErr("bad-payload", "invalid status %d", payload[0])
		}
		p.Status = status

	case TypeACK:
		if len(payload) != 3 {
			return nil, decodeErr("bad-payload", "ACK wants 3 bytes, got %d", len(payload))
		}
		p.AckedType = Type(payload[0])
		p.AckedSeq = payload[1]
		p.ErrorCode = ErrorCode(payload[2])
		if p.ErrorCode != ErrNone {
			return nil, decodeErr("bad-payload", "ACK must carry error_code 0, got %d", payload[2])
		}

	case TypeNACK:
		if len(payload) != 3 {
			return nil, decodeErr("bad-payload", "NACK wants 3 bytes, got %d", len(payload))
		}
		p.AckedType = Type(payload[0])
		p.AckedSeq = payload[1]
		p.ErrorCode = ErrorCode(payload[2])
		if p.ErrorCode == ErrNone {
			return nil, decodeErr("bad-payload", "NACK must carry a nonzero error_code")
		}

	default:
		return nil, decodeErr("unknown-type", "0x%02x", uint8(h.Type))
	}

	return p, nil
}

// Encode produces the exact on-wire bytes for p, including the header,
// and fills in p.Header.Length to match. Encode returns an error rather
// than silently truncating an oversized payload — that is a caller bug,
// not a wire condition.
func Encode(p *Packet) ([]byte, error) {
	if p.Header.Version == 0 {
		p.Header.Version = ProtocolVersion
	}

	var payload []byte

	switch p.Header.Type {
	case TypeESTOP, TypeDISCOVERY, TypeTIMESYNC, TypeSTATUSREQUEST,
		TypeSTREAMSTOP, TypeGETSINGLE, TypeHEARTBEAT:
		// no payload

	case TypeCONTROL:
		if !p.ControlState.valid() {
			return nil, fmt.Errorf("wire: encode CONTROL: invalid state %d", p.ControlState)
		}
		payload = []byte{p.ControlID, byte(p.ControlState)}

	case TypeSTREAMSTART:
		payload = make([]byte, 2)
		binary.BigEndian.PutUint16(payload, p.FrequencyHz)

	case TypeCONFIG:
		payload = make([]byte, 4+len(p.ConfigJSON))
		binary.BigEndian.PutUint32(payload[0:4], uint32(len(p.ConfigJSON)))
		copy(payload[4:], p.ConfigJSON)

	case TypeDATA:
		if len(p.Readings) > 255 {
			return nil, fmt.Errorf("wire: encode DATA: %d readings exceeds 255", len(p.Readings))
		}
		payload = make([]byte, 1+len(p.Readings)*6)
		payload[0] = uint8(len(p.Readings))
		for i, r := range p.Readings {
			if !r.Unit.valid() {
				return nil, fmt.Errorf("wire: encode DATA: reading %d has invalid unit %d", i, r.Unit)
			}
			off := 1 + i*6
			payload[off] = r.SensorID
			payload[off+1] = byte(r.Unit)
			binary.BigEndian.PutUint32(payload[off+2:off+6], bitsFromFloat32(r.Value))
		}

	case TypeSTATUS:
		if !p.Status.valid() {
			return nil, fmt.Errorf("wire: encode STATUS: invalid status %d", p.Status)
		}
		payload = []byte{byte(p.Status)}

	case TypeACK:
		payload = []byte{byte(p.AckedType), p.AckedSeq, byte(ErrNone)}

	case TypeNACK:
		if p.ErrorCode == ErrNone {
			return nil, fmt.Errorf("wire: encode NACK: error_code must be nonzero")
		}
		payload = []byte{byte(p.AckedType), p.AckedSeq, byte(p.ErrorCode)}

	default:
		return nil, fmt.Errorf("wire: encode: unknown type 0x%02x", uint8(p.Header.Type))
	}

	total := HeaderSize + len(payload)
	if total > 0xFFFF {
		return nil, fmt.Errorf("wire: encode: packet of %d bytes exceeds u16 length field", total)
	}

	buf := make([]byte, total)
	buf[0] = p.Header.Version
	buf[1] = byte(p.Header.Type)
	buf[2] = p.Header.Sequence
	binary.BigEndian.PutUint16(buf[3:5], uint16(total))
	binary.BigEndian.PutUint32(buf[5:9], p.Header.Timestamp)
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// internal/wire/codec_test.go
package wire

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundtripSimplePackets(t *testing.T) {
	types := []Type{TypeESTOP, TypeDISCOVERY, TypeTIMESYNC, TypeSTATUSREQUEST,
		TypeSTREAMSTOP, TypeGETSINGLE, TypeHEARTBEAT}

	for _, ty := range types {
		p := &Packet{Header: Header{Version: ProtocolVersion, Type: ty, Sequence: 7, Timestamp: 12345}}
		buf, err := Encode(p)
		require.NoError(t, err)
		assert.Equal(t, HeaderSize, len(buf))

		got, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, ty, got.Header.Type)
		assert.Equal(t, uint8(7), got.Header.Sequence)
		assert.Equal(t, uint32(12345), got.Header.Timestamp)
	}
}

func TestRoundtripControl(t *testing.T) {
	p := &Packet{
		Header:       Header{Version: ProtocolVersion, Type: TypeCONTROL, Sequence: 1},
		ControlID:    3,
		ControlState: ControlOpen,
	}
	buf, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.ControlID)
	assert.Equal(t, ControlOpen, got.ControlState)
}

func TestRoundtripData(t *testing.T) {
	p := &Packet{
		Header: Header{Version: ProtocolVersion, Type: TypeDATA},
		Readings: []Reading{
			{SensorID: 0, Unit: UnitCelsius, Value: 23.5},
			{SensorID: 1, Unit: UnitPSI, Value: 101.325},
		},
	}
	buf, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, got.Readings, 2)
	assert.Equal(t, float32(23.5), got.Readings[0].Value)
	assert.Equal(t, UnitPSI, got.Readings[1].Unit)
}

func TestDataZeroCount(t *testing.T) {
	p := &Packet{Header: Header{Version: ProtocolVersion, Type: TypeDATA}}
	buf, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, got.Readings)
}

func TestRoundtripConfig(t *testing.T) {
	p := &Packet{
		Header:     Header{Version: ProtocolVersion, Type: TypeCONFIG},
		ConfigJSON: []byte(`{"deviceName":"PM1"}`),
	}
	buf, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deviceName":"PM1"}`, string(got.ConfigJSON))
}

func TestRoundtripAckNack(t *testing.T) {
	ack := &Packet{Header: Header{Version: ProtocolVersion, Type: TypeACK}, AckedType: TypeCONTROL, AckedSeq: 9}
	buf, err := Encode(ack)
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, TypeCONTROL, got.AckedType)
	assert.Equal(t, ErrNone, got.ErrorCode)

	nack := &Packet{Header: Header{Version: ProtocolVersion, Type: TypeNACK}, AckedType: TypeCONFIG, AckedSeq: 2, ErrorCode: ErrBusy}
	buf, err = Encode(nack)
	require.NoError(t, err)
	got, err = Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, ErrBusy, got.ErrorCode)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	buf := []byte{1, byte(TypeHEARTBEAT), 0, 0, 9, 0, 0, 0, 0}
	buf[3], buf[4] = 0, 9
	_, err := Decode(buf)
	require.Error(t, err)
	assert.Equal(t, "bad-version", err.(*DecodeError).Kind)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{2, 0, 0, 0, 5})
	require.Error(t, err)
	assert.Equal(t, "short-buffer", err.(*DecodeError).Kind)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	buf, err := Encode(&Packet{Header: Header{Version: ProtocolVersion, Type: TypeHEARTBEAT}})
	require.NoError(t, err)
	buf[1] = 0x7F // unassigned discriminator
	_, err = Decode(buf)
	require.Error(t, err)
	assert.Equal(t, "unknown-type", err.(*DecodeError).Kind)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	buf, err := Encode(&Packet{Header: Header{Version: ProtocolVersion, Type: TypeHEARTBEAT}})
	require.NoError(t, err)
	short := buf[:len(buf)-1]
	_, err = Decode(short)
	require.Error(t, err)
	assert.Equal(t, "short-buffer", err.(*DecodeError).Kind)
}

func TestFramerSplitsConcatenatedPackets(t *testing.T) {
	var all []byte
	n := 5
	for i := 0; i < n; i++ {
		buf, err := Encode(&Packet{Header: Header{Version: ProtocolVersion, Type: TypeHEARTBEAT, Sequence: uint8(i)}})
		require.NoError(t, err)
		all = append(all, buf...)
	}

	var f Framer
	// Feed in arbitrary small chunks to prove framing doesn't care about
	// read-call boundaries.
	for i := 0; i < len(all); i += 3 {
		end := i + 3
		if end > len(all) {
			end = len(all)
		}
		f.Feed(all[i:end])
	}

	var got []*Packet
	for {
		p, ok, err := f.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, p)
	}

	require.Len(t, got, n)
	for i, p := range got {
		assert.Equal(t, uint8(i), p.Header.Sequence)
	}
	assert.Equal(t, 0, f.Pending())
}

func TestCodecRoundtripProperty(t *testing.T) {
	f := func(seq uint8, ts uint32, sensorID, controlID uint8, val float32) bool {
		packets := []*Packet{
			{Header: Header{Version: ProtocolVersion, Type: TypeHEARTBEAT, Sequence: seq, Timestamp: ts}},
			{Header: Header{Version: ProtocolVersion, Type: TypeCONTROL, Sequence: seq, Timestamp: ts}, ControlID: controlID, ControlState: ControlOpen},
			{Header: Header{Version: ProtocolVersion, Type: TypeDATA, Sequence: seq, Timestamp: ts}, Readings: []Reading{{SensorID: sensorID, Unit: UnitVolts, Value: val}}},
		}
		for _, p := range packets {
			buf, err := Encode(p)
			if err != nil {
				return false
			}
			got, err := Decode(buf)
			if err != nil {
				return false
			}
			if got.Header.Sequence != p.Header.Sequence || got.Header.Timestamp != p.Header.Timestamp {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(f, nil))
}

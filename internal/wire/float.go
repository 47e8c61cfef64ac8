// internal/wire/float.go
package wire

import "math"

// Values cross the wire as IEEE-754 binary32; the codec never widens to
// float64 so that a round-trip never gains precision a device didn't send.

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func bitsFromFloat32(v float32) uint32 {
	return math.Float32bits(v)
}

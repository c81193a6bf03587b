package main

import "math"

// encodeFloats/decodeFloats and encodeInts give the fixture format a
// tensor payload without asking every OperandSpec to hand-write raw
// bytes, the same little-endian layout nntype.ByteSize assumes.

func encodeFloats(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		putUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(getUint32(b[4*i:]))
	}
	return out
}

func encodeInts(vals []int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		putUint32(out[4*i:], uint32(v))
	}
	return out
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

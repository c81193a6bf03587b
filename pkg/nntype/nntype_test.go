package nntype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteSizeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  ElementType
		shp  Shape
		want uint64
	}{
		{"scalar f32", F32, nil, 4},
		{"tensor f32", TensorF32, Shape{2, 3}, 24},
		{"tensor quant8", TensorQuant8Asymm, Shape{2, 3}, 6},
		{"rank0 tensor", TensorF32, Shape{}, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ByteSize(c.typ, c.shp))
		})
	}
}

func TestSameShapeCommutative(t *testing.T) {
	a := Shape{2, 3}
	b := Shape{2, 3}
	assert.True(t, SameShape(TensorF32, a, TensorF32, b))
	assert.False(t, SameShape(TensorF32, a, TensorI32, b))
	assert.False(t, SameShape(TensorF32, a, TensorF32, Shape{3, 2}))
}

func TestQuantParamsValidate(t *testing.T) {
	require.NoError(t, QuantParams{Scale: 0.5, ZeroPoint: 0}.Validate())
	require.Error(t, QuantParams{Scale: 0, ZeroPoint: 0}.Validate())
	require.Error(t, QuantParams{Scale: 1, ZeroPoint: 256}.Validate())
}

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	q := QuantParams{Scale: 0.5, ZeroPoint: 10}
	for _, stored := range []uint8{0, 10, 128, 255} {
		real := q.Dequantize(stored)
		got := q.Quantize(real)
		assert.Equal(t, stored, got)
	}
}

func TestAlignOf(t *testing.T) {
	assert.Equal(t, uint64(1), AlignOf(0))
	assert.Equal(t, uint64(1), AlignOf(1))
	assert.Equal(t, uint64(2), AlignOf(2))
	assert.Equal(t, uint64(2), AlignOf(3))
	assert.Equal(t, uint64(4), AlignOf(4))
	assert.Equal(t, uint64(4), AlignOf(1000))
}

func TestAlignedOffset(t *testing.T) {
	assert.Equal(t, uint64(0), AlignedOffset(0, 4))
	assert.Equal(t, uint64(4), AlignedOffset(1, 4))
	assert.Equal(t, uint64(8), AlignedOffset(5, 4))
	assert.Equal(t, uint64(2), AlignedOffset(1, 2))
}

func TestHasWildcard(t *testing.T) {
	assert.True(t, Shape{2, 0, 3}.HasWildcard())
	assert.False(t, Shape{2, 3}.HasWildcard())
}

package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/driver"
)

func sampleRequest() driver.ExecutionRequest {
	return driver.ExecutionRequest{
		Operations: []int{0, 1},
		Inputs: []driver.ArgumentView{
			{OperandIndex: 0, PoolIndex: 0, Offset: 0, Length: 8, Dimensions: []uint32{2}},
			{OperandIndex: 1, PoolIndex: 0, Offset: 8, Length: 8, Dimensions: []uint32{2}},
		},
		Outputs: []driver.ArgumentView{
			{OperandIndex: 2, PoolIndex: 1, Offset: 0, Length: 8, Dimensions: []uint32{2}},
		},
		Pools: []driver.PoolView{
			{Index: 0, Bytes: make([]byte, 16)},
			{Index: 1, Bytes: make([]byte, 8)},
		},
	}
}

func TestEncodeRequestProducesAFinishedFlatbuffer(t *testing.T) {
	req := sampleRequest()
	buf := EncodeRequest(req)
	require.GreaterOrEqual(t, len(buf), 4)

	// A finished flatbuffer's first 4 bytes are a little-endian uoffset
	// to the root table, which must land inside the buffer.
	root := binary.LittleEndian.Uint32(buf)
	assert.Less(t, int(root), len(buf))
}

func TestSizeMatchesEncodeRequestLength(t *testing.T) {
	req := sampleRequest()
	assert.Equal(t, len(EncodeRequest(req)), Size(req))
}

func TestEncodeRequestGrowsWithMoreArguments(t *testing.T) {
	small := driver.ExecutionRequest{Operations: []int{0}}
	large := sampleRequest()
	assert.Less(t, len(EncodeRequest(small)), len(EncodeRequest(large)))
}

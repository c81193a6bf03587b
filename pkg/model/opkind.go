package model

// OpKind tags an operation's computation. The tag set is fixed, per §3
// of the spec; OEM is the single escape hatch for vendor-defined ops
// this runtime cannot interpret but must still place in the graph.
type OpKind int

const (
	ADD OpKind = iota
	CONV_2D
	DEPTHWISE_CONV_2D
	AVERAGE_POOL_2D
	MAX_POOL_2D
	L2_POOL_2D
	RELU
	RELU1
	RELU6
	LOGISTIC
	TANH
	SOFTMAX
	L2_NORMALIZATION
	LOCAL_RESPONSE_NORMALIZATION
	RESHAPE
	RESIZE_BILINEAR
	DEPTH_TO_SPACE
	SPACE_TO_DEPTH
	CONCATENATION
	FULLY_CONNECTED
	EMBEDDING_LOOKUP
	HASHTABLE_LOOKUP
	LSH_PROJECTION
	RNN
	LSTM
	SVDF
	DEQUANTIZE
	FLOOR
	MUL
	OEM
)

var opKindNames = map[OpKind]string{
	ADD:                          "ADD",
	CONV_2D:                      "CONV_2D",
	DEPTHWISE_CONV_2D:            "DEPTHWISE_CONV_2D",
	AVERAGE_POOL_2D:              "AVERAGE_POOL_2D",
	MAX_POOL_2D:                  "MAX_POOL_2D",
	L2_POOL_2D:                   "L2_POOL_2D",
	RELU:                         "RELU",
	RELU1:                        "RELU1",
	RELU6:                        "RELU6",
	LOGISTIC:                     "LOGISTIC",
	TANH:                         "TANH",
	SOFTMAX:                      "SOFTMAX",
	L2_NORMALIZATION:             "L2_NORMALIZATION",
	LOCAL_RESPONSE_NORMALIZATION: "LOCAL_RESPONSE_NORMALIZATION",
	RESHAPE:                      "RESHAPE",
	RESIZE_BILINEAR:              "RESIZE_BILINEAR",
	DEPTH_TO_SPACE:               "DEPTH_TO_SPACE",
	SPACE_TO_DEPTH:               "SPACE_TO_DEPTH",
	CONCATENATION:                "CONCATENATION",
	FULLY_CONNECTED:              "FULLY_CONNECTED",
	EMBEDDING_LOOKUP:             "EMBEDDING_LOOKUP",
	HASHTABLE_LOOKUP:             "HASHTABLE_LOOKUP",
	LSH_PROJECTION:               "LSH_PROJECTION",
	RNN:                          "RNN",
	LSTM:                         "LSTM",
	SVDF:                         "SVDF",
	DEQUANTIZE:                   "DEQUANTIZE",
	FLOOR:                        "FLOOR",
	MUL:                          "MUL",
	OEM:                          "OEM",
}

func (k OpKind) String() string {
	if n, ok := opKindNames[k]; ok {
		return n
	}
	return "UNKNOWN_OP"
}

// Activation is a fused activation code carried as an operand value by
// ops that support it (ADD, MUL, CONV_2D, FULLY_CONNECTED, ...).
type Activation int32

const (
	ActivationNone Activation = iota
	ActivationRelu
	ActivationRelu1
	ActivationRelu6
)

// Arity describes the valid input/output counts for an op kind,
// independent of element type. MaxInputs of -1 means unbounded (e.g.
// CONCATENATION). MinOutputs/MaxOutputs work the same way for outputs, which in
// practice are always a small fixed count but are expressed as a range
// for uniformity with OEM.
type Arity struct {
	MinInputs, MaxInputs int
	MinOutputs, MaxOutputs int
}

func fixed(in, out int) Arity { return Arity{in, in, out, out} }

// arityTable is the op-kind arity contract referenced by both
// AddOperation (build-time validation) and the CPU executor's
// per-operation count check (§4.G step 1).
var arityTable = map[OpKind]Arity{
	ADD:                          fixed(3, 1),
	MUL:                          fixed(3, 1),
	CONV_2D:                      {7, 11, 1, 1},
	DEPTHWISE_CONV_2D:            {8, 12, 1, 1},
	AVERAGE_POOL_2D:              {7, 11, 1, 1},
	MAX_POOL_2D:                  {7, 11, 1, 1},
	L2_POOL_2D:                   {7, 11, 1, 1},
	RELU:                         fixed(1, 1),
	RELU1:                        fixed(1, 1),
	RELU6:                        fixed(1, 1),
	LOGISTIC:                     fixed(1, 1),
	TANH:                         fixed(1, 1),
	SOFTMAX:                      fixed(2, 1),
	L2_NORMALIZATION:             fixed(1, 1),
	LOCAL_RESPONSE_NORMALIZATION: fixed(5, 1),
	RESHAPE:                      fixed(2, 1),
	RESIZE_BILINEAR:              fixed(3, 1),
	DEPTH_TO_SPACE:               fixed(2, 1),
	SPACE_TO_DEPTH:               fixed(2, 1),
	CONCATENATION:                {2, -1, 1, 1},
	FULLY_CONNECTED:              fixed(4, 1),
	EMBEDDING_LOOKUP:             fixed(2, 1),
	HASHTABLE_LOOKUP:             fixed(3, 2),
	LSH_PROJECTION:               {3, 4, 1, 1},
	RNN:                          fixed(6, 2),
	LSTM:                         {20, 23, 4, 4},
	SVDF:                         fixed(7, 2),
	DEQUANTIZE:                   fixed(1, 1),
	FLOOR:                        fixed(1, 1),
	OEM:                          {0, -1, 0, -1},
}

// ArityOf returns the arity contract for kind. OEM is the default for
// any kind missing from the table, matching the table's own OEM entry
// (accept anything; no kernel runs).
func ArityOf(kind OpKind) Arity {
	if a, ok := arityTable[kind]; ok {
		return a
	}
	return arityTable[OEM]
}

// Check validates a candidate (inputs, outputs) count against the
// arity contract.
func (a Arity) Check(numInputs, numOutputs int) bool {
	if numInputs < a.MinInputs || (a.MaxInputs >= 0 && numInputs > a.MaxInputs) {
		return false
	}
	if numOutputs < a.MinOutputs || (a.MaxOutputs >= 0 && numOutputs > a.MaxOutputs) {
		return false
	}
	return true
}

package protocol

import "fmt"

// ServiceUUID is the GATT service the peer advertises.
const ServiceUUID = "19B10000-E8F2-537E-4F6C-D104768A1214"

const (
	// FloatSize is the encoded width of one weight value.
	FloatSize = 4
	// PredictionFloats is the number of class probabilities in a prediction payload.
	PredictionFloats = 3

	DefaultReceiveChunkFloats = 52
	DefaultSendChunkFloats    = 32
)

// Endpoint names one channel on the transport.
type Endpoint uint8

const (
	// EndpointWeightsRead carries weight chunks from the peer (notify).
	EndpointWeightsRead Endpoint = iota + 1
	// EndpointWeightsWrite carries weight chunks to the peer (write).
	EndpointWeightsWrite
	EndpointControl
	EndpointLabel
	EndpointPrediction
)

var endpointUUIDs = map[Endpoint]string{
	EndpointWeightsRead:  "19B10001-E8F2-537E-4F6C-D104768A1214",
	EndpointControl:      "19B10002-E8F2-537E-4F6C-D104768A1214",
	EndpointLabel:        "19B10003-E8F2-537E-4F6C-D104768A1214",
	EndpointPrediction:   "19B10004-E8F2-537E-4F6C-D104768A1214",
	EndpointWeightsWrite: "19B10005-E8F2-537E-4F6C-D104768A1214",
}

var endpointNames = map[Endpoint]string{
	EndpointWeightsRead:  "weights_read",
	EndpointWeightsWrite: "weights_write",
	EndpointControl:      "control",
	EndpointLabel:        "label",
	EndpointPrediction:   "prediction",
}

// Endpoints lists every endpoint in declaration order.
func Endpoints() []Endpoint {
	return []Endpoint{
		EndpointWeightsRead,
		EndpointWeightsWrite,
		EndpointControl,
		EndpointLabel,
		EndpointPrediction,
	}
}

// UUID returns the characteristic UUID the endpoint maps to on the peer.
func (e Endpoint) UUID() string {
	return endpointUUIDs[e]
}

func (e Endpoint) String() string {
	if name, ok := endpointNames[e]; ok {
		return name
	}
	return fmt.Sprintf("endpoint(%d)", uint8(e))
}

// Command is a single opcode byte written to the control endpoint.
type Command uint8

const (
	CommandNone Command = iota
	CommandGetWeights
	CommandSetWeights
	CommandStartTraining
	CommandStartClassification
	CommandStartInferenceBenchmark
	CommandStartTrainingBenchmark
)

var commandNames = map[Command]string{
	CommandNone:                    "NONE",
	CommandGetWeights:              "GET_WEIGHTS",
	CommandSetWeights:              "SET_WEIGHTS",
	CommandStartTraining:           "START_TRAINING",
	CommandStartClassification:     "START_CLASSIFICATION",
	CommandStartInferenceBenchmark: "START_INFERENCE_BENCHMARK",
	CommandStartTrainingBenchmark:  "START_TRAINING_BENCHMARK",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("COMMAND(%d)", uint8(c))
}

// Payload is the control-endpoint encoding of the command.
func (c Command) Payload() []byte {
	return []byte{byte(c)}
}

package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"trophos/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1

	// vectorCodecVersion is the leading byte of the binary embedding
	// payload: version, uint32 length, little-endian float64 values.
	vectorCodecVersion = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeComposition(composition []model.IngredientAmount) ([]byte, error) {
	return json.Marshal(composition)
}

func DecodeComposition(data []byte) ([]model.IngredientAmount, error) {
	var composition []model.IngredientAmount
	if err := json.Unmarshal(data, &composition); err != nil {
		return nil, err
	}
	return composition, nil
}

// EncodeVector serializes an embedding payload as a self-describing
// binary blob, portable across implementations.
func EncodeVector(values []float64) []byte {
	buf := make([]byte, 5+8*len(values))
	buf[0] = vectorCodecVersion
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[5+8*i:], math.Float64bits(v))
	}
	return buf
}

func DecodeVector(data []byte) ([]float64, error) {
	if len(data) < 5 {
		return nil, errors.New("vector payload too short")
	}
	if data[0] != vectorCodecVersion {
		return nil, fmt.Errorf("%w: vector codec %d", ErrVersionMismatch, data[0])
	}
	n := binary.LittleEndian.Uint32(data[1:5])
	if len(data) != int(5+8*n) {
		return nil, fmt.Errorf("vector payload length %d does not match declared count %d", len(data), n)
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[5+8*i:]))
	}
	return values, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// Stamp fills the version header on a record about to be persisted.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

// Package multisend implements the packed-call encoding consumed by the
// MultiSendCallOnly contract. Each record is laid out as
//
//	1 byte   operation
//	20 bytes target address
//	32 bytes value (big-endian)
//	32 bytes data length (big-endian)
//	N bytes  raw call data
//
// with no padding or separators between records. The layout is a wire
// format the contract walks byte by byte, so encode and decode are exact
// inverses and any slack in the buffer is an error.
package multisend

import (
	"errors"
	"fmt"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const recordHeaderLen = 1 + common.AddressLength + 32 + 32

var (
	// ErrTruncatedPayload is returned when a buffer ends mid-record or
	// carries bytes that cannot form a further record.
	ErrTruncatedPayload = errors.New("multisend: truncated payload")

	// ErrValueOverflow is returned when a call value does not fit in a
	// 256-bit word.
	ErrValueOverflow = errors.New("multisend: call value overflows uint256")
)

// Encode packs calls into a single MultiSend payload. An empty slice
// encodes to an empty buffer.
func Encode(calls []model.Call) ([]byte, error) {
	size := 0
	for _, call := range calls {
		size += recordHeaderLen + len(call.Data)
	}

	out := make([]byte, 0, size)
	for i, call := range calls {
		value := uint256.NewInt(0)
		if call.Value != nil {
			v, overflow := uint256.FromBig(call.Value)
			if overflow {
				return nil, fmt.Errorf("call %d: %w", i, ErrValueOverflow)
			}
			value = v
		}
		length := uint256.NewInt(uint64(len(call.Data)))

		out = append(out, byte(call.Operation))
		out = append(out, call.To.Bytes()...)
		v32 := value.Bytes32()
		out = append(out, v32[:]...)
		l32 := length.Bytes32()
		out = append(out, l32[:]...)
		out = append(out, call.Data...)
	}
	return out, nil
}

// Decode is the exact left inverse of Encode. It fails if the buffer ends
// inside a record or if trailing bytes remain after the last complete one;
// a partially decoded result is never returned.
func Decode(payload []byte) ([]model.Call, error) {
	calls := []model.Call{}
	offset := 0

	for offset < len(payload) {
		if len(payload)-offset < recordHeaderLen {
			return nil, fmt.Errorf("%w: %d stray bytes at offset %d",
				ErrTruncatedPayload, len(payload)-offset, offset)
		}

		op := model.Operation(payload[offset])
		offset++

		var to common.Address
		copy(to[:], payload[offset:offset+common.AddressLength])
		offset += common.AddressLength

		value := new(uint256.Int).SetBytes(payload[offset : offset+32])
		offset += 32

		length := new(uint256.Int).SetBytes(payload[offset : offset+32])
		offset += 32

		if !length.IsUint64() || length.Uint64() > uint64(len(payload)-offset) {
			return nil, fmt.Errorf("%w: data length %s exceeds remaining %d bytes",
				ErrTruncatedPayload, length, len(payload)-offset)
		}
		dataLen := int(length.Uint64())

		data := make([]byte, dataLen)
		copy(data, payload[offset:offset+dataLen])
		offset += dataLen

		calls = append(calls, model.Call{
			To:        to,
			Value:     value.ToBig(),
			Data:      data,
			Operation: op,
		})
	}

	return calls, nil
}

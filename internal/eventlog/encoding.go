package eventlog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/runboard/internal/event"
)

// Record encoding format (binary, little-endian):
// - WallTime (8 bytes, float64 seconds since epoch)
// - Step (8 bytes, int64)
// - Kind (1 byte)
// - Tag length (2 bytes) + Tag string
// - Payload length (4 bytes) + Payload bytes

// encodeRecord encodes a record into the frame payload format.
func encodeRecord(r event.Record) ([]byte, error) {
	if len(r.Tag) > math.MaxUint16 {
		return nil, fmt.Errorf("tag too long: %d bytes", len(r.Tag))
	}

	buf := make([]byte, 0, 23+len(r.Tag)+len(r.Payload))

	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(r.WallTime))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Step))
	buf = append(buf, byte(r.Kind))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.Tag)))
	buf = append(buf, r.Tag...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Payload)))
	buf = append(buf, r.Payload...)

	return buf, nil
}

// decodeRecord decodes a frame payload into a record.
func decodeRecord(data []byte) (event.Record, error) {
	var r event.Record

	if len(data) < 19 {
		return r, fmt.Errorf("payload too short: %d bytes", len(data))
	}

	r.WallTime = math.Float64frombits(binary.LittleEndian.Uint64(data[0:8]))
	r.Step = int64(binary.LittleEndian.Uint64(data[8:16]))
	r.Kind = event.Kind(data[16])

	offset := 17

	tagLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if offset+tagLen > len(data) {
		return r, fmt.Errorf("payload too short for tag")
	}
	r.Tag = string(data[offset : offset+tagLen])
	offset += tagLen

	if offset+4 > len(data) {
		return r, fmt.Errorf("payload too short for payload length")
	}
	payloadLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if offset+payloadLen > len(data) {
		return r, fmt.Errorf("payload too short for payload content")
	}
	if payloadLen > 0 {
		r.Payload = make([]byte, payloadLen)
		copy(r.Payload, data[offset:offset+payloadLen])
	}
	offset += payloadLen

	if offset != len(data) {
		return r, fmt.Errorf("trailing garbage: %d bytes", len(data)-offset)
	}

	return r, nil
}

// Package broker carries plan requests to the trip-planning broker and
// routes its replies back by correlation handle.
//
// Wire framing, both directions, is two parts packed into one message:
//
//	[4-byte big-endian connection handle][payload]
//
// Outbound payloads are fixed-size plan-request records; inbound payloads
// are the broker's reply text, passed through verbatim.
package broker

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	handleLen = 4

	// RecordSize is the fixed size of a plan-request record. The record
	// layout is a serialization boundary owned by the routing engine; the
	// gateway only fills the query envelope and never interprets the rest.
	RecordSize = 256

	recordVersion = 1

	// MaxQueryLen is the longest query string a record can carry.
	MaxQueryLen = RecordSize - 4
)

var (
	ErrShortFrame   = errors.New("broker: frame shorter than handle prefix")
	ErrQueryTooLong = fmt.Errorf("broker: query string exceeds %d bytes", MaxQueryLen)
	ErrBadRecord    = errors.New("broker: malformed plan record")
)

// Reply is one decoded inbound message: the reply text and the connection
// handle it targets.
type Reply struct {
	Handle int32
	Body   []byte
}

// BuildRecord packs a query string into a fixed-layout plan record:
// [version][flags][query length u16][query bytes][zero padding].
func BuildRecord(query string) ([]byte, error) {
	if len(query) > MaxQueryLen {
		return nil, ErrQueryTooLong
	}
	rec := make([]byte, RecordSize)
	rec[0] = recordVersion
	binary.BigEndian.PutUint16(rec[2:4], uint16(len(query)))
	copy(rec[4:], query)
	return rec, nil
}

// RecordQuery extracts the query string from a plan record. The broker
// side of the channel uses it; the gateway never does.
func RecordQuery(rec []byte) (string, error) {
	if len(rec) != RecordSize || rec[0] != recordVersion {
		return "", ErrBadRecord
	}
	qlen := int(binary.BigEndian.Uint16(rec[2:4]))
	if qlen > MaxQueryLen {
		return "", ErrBadRecord
	}
	return string(rec[4 : 4+qlen]), nil
}

// EncodeFrame prefixes a payload with its connection handle.
func EncodeFrame(handle int32, payload []byte) []byte {
	frame := make([]byte, handleLen+len(payload))
	binary.BigEndian.PutUint32(frame[:handleLen], uint32(handle))
	copy(frame[handleLen:], payload)
	return frame
}

// DecodeFrame splits a frame back into handle and payload. An empty
// payload is legal; a frame shorter than the handle prefix is not.
func DecodeFrame(frame []byte) (int32, []byte, error) {
	if len(frame) < handleLen {
		return 0, nil, ErrShortFrame
	}
	handle := int32(binary.BigEndian.Uint32(frame[:handleLen]))
	return handle, frame[handleLen:], nil
}

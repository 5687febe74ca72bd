package util

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/downfa11-org/go-consumer/pkg/types"
)

const maxFrameSize = 64 << 20

// EncodeBrokerMessage serializes a control/data message into a frame body.
// Layout: [type u8][messageID u64][payload...].
func EncodeBrokerMessage(msg types.BrokerMessage) []byte {
	buf := make([]byte, 9+len(msg.Payload))
	buf[0] = byte(msg.Type)
	binary.BigEndian.PutUint64(buf[1:9], msg.MessageID)
	copy(buf[9:], msg.Payload)
	return buf
}

// DecodeBrokerMessage deserializes a frame body into a broker message.
func DecodeBrokerMessage(data []byte) (types.BrokerMessage, error) {
	if len(data) < 9 {
		return types.BrokerMessage{}, errors.New("broker message too short")
	}
	msg := types.BrokerMessage{
		Type:      types.MessageType(data[0]),
		MessageID: binary.BigEndian.Uint64(data[1:9]),
	}
	if len(data) > 9 {
		msg.Payload = data[9:]
	}
	return msg, nil
}

// WriteFrame writes a length-prefixed frame (4-byte big-endian length + body).
func WriteFrame(w io.Writer, body []byte) error {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("write frame length failed: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body failed: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A zero-length frame is a
// keepalive and yields an empty body.
func ReadFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf)
	if frameLen == 0 {
		return nil, nil
	}
	if frameLen > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", frameLen)
	}
	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body failed: %w", err)
	}
	return body, nil
}

// EncodeRecord serializes a record for segment storage.
// Layout: [keyLen u16][key][eventType u8][createdAt unixnano i64][dataLen u32][data].
func EncodeRecord(rec *types.Record) ([]byte, error) {
	keyBytes := []byte(rec.MsgKey)
	if len(keyBytes) > 0xFFFF {
		return nil, fmt.Errorf("record key too long: %d bytes", len(keyBytes))
	}

	buf := make([]byte, 2+len(keyBytes)+1+8+4+len(rec.Data))
	pos := 0

	binary.BigEndian.PutUint16(buf[pos:], uint16(len(keyBytes)))
	pos += 2
	copy(buf[pos:], keyBytes)
	pos += len(keyBytes)

	buf[pos] = byte(rec.EventType)
	pos++

	binary.BigEndian.PutUint64(buf[pos:], uint64(rec.CreatedAt.UnixNano()))
	pos += 8

	binary.BigEndian.PutUint32(buf[pos:], uint32(len(rec.Data)))
	pos += 4
	copy(buf[pos:], rec.Data)

	return buf, nil
}

// DecodeRecord deserializes a stored record. The offset is not part of the
// stored form; callers set it from the record's position in the stream.
func DecodeRecord(data []byte) (*types.Record, error) {
	if len(data) < 15 {
		return nil, errors.New("record too short")
	}
	pos := 0

	keyLen := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2
	if pos+keyLen+13 > len(data) {
		return nil, errors.New("invalid record key length")
	}
	key := string(data[pos : pos+keyLen])
	pos += keyLen

	eventType := types.EventType(data[pos])
	pos++

	createdAt := time.Unix(0, int64(binary.BigEndian.Uint64(data[pos:])))
	pos += 8

	dataLen := int(binary.BigEndian.Uint32(data[pos:]))
	pos += 4
	if pos+dataLen > len(data) {
		return nil, errors.New("invalid record data length")
	}

	rec := &types.Record{
		MsgKey:    key,
		EventType: eventType,
		CreatedAt: createdAt,
	}
	if dataLen > 0 {
		rec.Data = make([]byte, dataLen)
		copy(rec.Data, data[pos:pos+dataLen])
	}
	return rec, nil
}

package util

import (
	"bytes"
	"testing"
	"time"

	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerMessageRoundTrip(t *testing.T) {
	original := types.BrokerMessage{
		Type:      types.MessageReset,
		MessageID: 42,
		Payload:   []byte(`{"reason":"rebalance"}`),
	}

	decoded, err := DecodeBrokerMessage(EncodeBrokerMessage(original))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestBrokerMessageNoPayload(t *testing.T) {
	decoded, err := DecodeBrokerMessage(EncodeBrokerMessage(types.BrokerMessage{
		Type:      types.MessageAck,
		MessageID: 7,
	}))
	require.NoError(t, err)
	assert.Equal(t, types.MessageAck, decoded.Type)
	assert.Equal(t, uint64(7), decoded.MessageID)
	assert.Nil(t, decoded.Payload)
}

func TestDecodeBrokerMessageTooShort(t *testing.T) {
	_, err := DecodeBrokerMessage([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := EncodeBrokerMessage(types.BrokerMessage{
		Type:      types.MessageData,
		MessageID: 99,
		Payload:   []byte("batch"),
	})
	require.NoError(t, WriteFrame(&buf, body))

	read, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, body, read)
}

func TestReadFrameKeepalive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	body, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(buf)
	assert.ErrorContains(t, err, "frame too large")
}

func TestRecordRoundTrip(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC)
	original := &types.Record{
		MsgKey:    "product-1001",
		EventType: types.EventMessage,
		Data:      []byte(`{"price":19900}`),
		CreatedAt: createdAt,
	}

	encoded, err := EncodeRecord(original)
	require.NoError(t, err)

	decoded, err := DecodeRecord(encoded)
	require.NoError(t, err)
	assert.Equal(t, original.MsgKey, decoded.MsgKey)
	assert.Equal(t, original.EventType, decoded.EventType)
	assert.Equal(t, original.Data, decoded.Data)
	assert.True(t, createdAt.Equal(decoded.CreatedAt))
}

func TestRecordTombstoneHasNilData(t *testing.T) {
	encoded, err := EncodeRecord(&types.Record{
		MsgKey:    "product-1001",
		EventType: types.EventDelete,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	decoded, err := DecodeRecord(encoded)
	require.NoError(t, err)
	assert.Equal(t, types.EventDelete, decoded.EventType)
	assert.Nil(t, decoded.Data)
}

func TestDecodeRecordTruncated(t *testing.T) {
	encoded, err := EncodeRecord(&types.Record{
		MsgKey:    "key",
		EventType: types.EventMessage,
		Data:      []byte("value"),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = DecodeRecord(encoded[:len(encoded)-3])
	assert.Error(t, err)
}

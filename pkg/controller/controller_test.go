package controller_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/downfa11-org/go-consumer/pkg/controller"
	"github.com/downfa11-org/go-consumer/pkg/disk"
	"github.com/downfa11-org/go-consumer/pkg/index"
	"github.com/downfa11-org/go-consumer/pkg/processor"
	"github.com/downfa11-org/go-consumer/pkg/store"
	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures outbound ACKs and can snapshot state at send time.
type recordingSender struct {
	acks   []types.BrokerMessage
	onSend func(types.BrokerMessage)
	err    error
}

func (s *recordingSender) Send(msg types.BrokerMessage) error {
	if s.err != nil {
		return s.err
	}
	if s.onSend != nil {
		s.onSend(msg)
	}
	s.acks = append(s.acks, msg)
	return nil
}

func newTestController(t *testing.T, sender *recordingSender) (*controller.Controller, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	idx, err := index.Open(dir, "test")
	require.NoError(t, err)

	engine, err := disk.NewEngine(dir, "consumer-test-data", 0, 3)
	require.NoError(t, err)

	st, err := store.NewStore(engine, idx, "test", 3)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})

	return controller.NewController(st, processor.ForType("test"), sender, "test"), st
}

func dataMessage(t *testing.T, keys ...string) types.BrokerMessage {
	t.Helper()
	records := make([]types.Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, types.Record{
			MsgKey:    key,
			EventType: types.EventMessage,
			Data:      []byte("payload-" + key),
			CreatedAt: time.Now().UTC(),
		})
	}
	payload, err := json.Marshal(records)
	require.NoError(t, err)
	return types.BrokerMessage{Type: types.MessageData, MessageID: 1, Payload: payload}
}

func TestController_ResyncCycle(t *testing.T) {
	sender := &recordingSender{}
	ctrl, st := newTestController(t, sender)

	require.NoError(t, ctrl.HandleEvent(dataMessage(t, "a", "b", "c", "d")))
	assert.Equal(t, controller.StateNormal, ctrl.State())

	// At RESET-ack time the store must already be empty.
	sender.onSend = func(msg types.BrokerMessage) {
		if msg.MessageID != 77 {
			return
		}
		segments, err := st.ListSegments()
		require.NoError(t, err)
		assert.Empty(t, segments, "ACK must not precede the clear")
	}
	require.NoError(t, ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReset, MessageID: 77}))
	assert.Equal(t, controller.StateReplaying, ctrl.State())
	require.Len(t, sender.acks, 1)
	assert.Equal(t, types.MessageAck, sender.acks[0].Type)
	assert.Equal(t, uint64(77), sender.acks[0].MessageID)

	// Replay DATA is ordinary ingestion.
	require.NoError(t, ctrl.HandleEvent(dataMessage(t, "x", "y", "z", "w", "v")))
	assert.Equal(t, controller.StateReplaying, ctrl.State())

	// At READY-ack time the flush must have made all records visible.
	sender.onSend = func(msg types.BrokerMessage) {
		if msg.MessageID != 78 {
			return
		}
		stats, err := st.Stats()
		require.NoError(t, err)
		assert.Equal(t, uint64(5), stats.TotalRecords, "stats at ACK time reflect the flushed state")
	}
	require.NoError(t, ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReady, MessageID: 78}))
	assert.Equal(t, controller.StateNormal, ctrl.State())
	require.Len(t, sender.acks, 2)
	assert.Equal(t, uint64(78), sender.acks[1].MessageID)

	rec, err := st.FindByOffset(0)
	require.NoError(t, err)
	assert.Equal(t, "x", rec.MsgKey, "replay restarted the offset space at 0")
}

func TestController_ResetWhileReplayingIgnored(t *testing.T) {
	sender := &recordingSender{}
	ctrl, st := newTestController(t, sender)

	require.NoError(t, ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReset, MessageID: 1}))
	require.NoError(t, ctrl.HandleEvent(dataMessage(t, "a", "b")))

	// A second RESET mid-replay is a protocol error: no clear, no ACK.
	require.NoError(t, ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReset, MessageID: 2}))
	assert.Equal(t, controller.StateReplaying, ctrl.State())
	assert.Len(t, sender.acks, 1)

	rec, err := st.FindByOffset(0)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.MsgKey, "replayed data survived the ignored RESET")
}

func TestController_ReadyWithoutResetIgnored(t *testing.T) {
	sender := &recordingSender{}
	ctrl, _ := newTestController(t, sender)

	require.NoError(t, ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReady, MessageID: 9}))
	assert.Equal(t, controller.StateNormal, ctrl.State())
	assert.Empty(t, sender.acks)
}

// faultyStore fails destructive operations to exercise the no-ACK contract.
type faultyStore struct {
	clearErr error
	flushErr error
}

func (s *faultyStore) Append(rec *types.Record) (uint64, error) { return 0, nil }
func (s *faultyStore) FlushCurrentSegment() error               { return s.flushErr }
func (s *faultyStore) ClearAllData() error                      { return s.clearErr }
func (s *faultyStore) Stats() (types.SegmentStats, error)       { return types.SegmentStats{}, nil }

func TestController_NoAckWhenClearFails(t *testing.T) {
	sender := &recordingSender{}
	ctrl := controller.NewController(
		&faultyStore{clearErr: errors.New("disk gone")},
		processor.ForType("test"), sender, "test")

	err := ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReset, MessageID: 5})
	require.Error(t, err)
	assert.Empty(t, sender.acks, "a failed clear must not be acknowledged")
	assert.Equal(t, controller.StateNormal, ctrl.State(), "a retried RESET must be handled again")
}

func TestController_NoAckWhenFlushFails(t *testing.T) {
	sender := &recordingSender{}
	ctrl := controller.NewController(
		&faultyStore{flushErr: errors.New("disk gone")},
		processor.ForType("test"), sender, "test")

	require.NoError(t, ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReset, MessageID: 6}))
	require.Len(t, sender.acks, 1)

	err := ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReady, MessageID: 7})
	require.Error(t, err)
	assert.Len(t, sender.acks, 1, "a failed flush must not be acknowledged")
	assert.Equal(t, controller.StateReplaying, ctrl.State())
}

func TestController_NoStateChangeWhenAckSendFails(t *testing.T) {
	sender := &recordingSender{err: errors.New("connection reset")}
	ctrl, _ := newTestController(t, sender)

	err := ctrl.HandleEvent(types.BrokerMessage{Type: types.MessageReset, MessageID: 8})
	require.Error(t, err)
	assert.Equal(t, controller.StateNormal, ctrl.State(),
		"an unacknowledged RESET is re-driven by the broker after reconnect")
}

func TestController_MalformedDataBatch(t *testing.T) {
	sender := &recordingSender{}
	ctrl, _ := newTestController(t, sender)

	err := ctrl.HandleEvent(types.BrokerMessage{
		Type:    types.MessageData,
		Payload: []byte("not-json"),
	})
	require.Error(t, err)
}

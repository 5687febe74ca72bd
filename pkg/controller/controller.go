package controller

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/downfa11-org/go-consumer/pkg/metrics"
	"github.com/downfa11-org/go-consumer/pkg/processor"
	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/downfa11-org/go-consumer/util"
)

// State of the resync machine. The machine cycles between the two states for
// the lifetime of the process; there is no terminal state.
type State int32

const (
	StateNormal State = iota
	StateReplaying
)

func (s State) String() string {
	if s == StateReplaying {
		return "REPLAYING"
	}
	return "NORMAL"
}

// LogStore is the slice of the segmented log writer the controller drives.
type LogStore interface {
	Append(rec *types.Record) (uint64, error)
	FlushCurrentSegment() error
	ClearAllData() error
	Stats() (types.SegmentStats, error)
}

// AckSender sends acknowledgements back to the broker.
type AckSender interface {
	Send(msg types.BrokerMessage) error
}

// Controller handles the broker's ordered control/data event sequence. All
// Handle* methods are invoked from one dispatch goroutine, in arrival order;
// the store below serializes against concurrent query traffic itself.
type Controller struct {
	store        LogStore
	proc         processor.Processor
	sender       AckSender
	consumerType string

	state atomic.Int32
}

func NewController(store LogStore, proc processor.Processor, sender AckSender, consumerType string) *Controller {
	return &Controller{
		store:        store,
		proc:         proc,
		sender:       sender,
		consumerType: consumerType,
	}
}

// State reports the current resync state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// HandleEvent dispatches one broker message. An error return is a
// connection-level fault for the caller to handle; protocol-sequence
// violations are logged and swallowed here since the broker owns sequencing.
func (c *Controller) HandleEvent(msg types.BrokerMessage) error {
	switch msg.Type {
	case types.MessageData:
		return c.handleData(msg)
	case types.MessageReset:
		return c.HandleReset(msg)
	case types.MessageReady:
		return c.HandleReady(msg)
	case types.MessageAck:
		util.Debug("[%s] received ACK for message %d", c.consumerType, msg.MessageID)
		return nil
	}
	util.Warn("[%s] unknown message type: %s", c.consumerType, msg.Type)
	return nil
}

// handleData ingests one DATA batch. Replay DATA is ordinary ingestion: the
// same path runs in both states.
func (c *Controller) handleData(msg types.BrokerMessage) error {
	var records []types.Record
	if err := json.Unmarshal(msg.Payload, &records); err != nil {
		return fmt.Errorf("failed to decode DATA batch: %w", err)
	}

	util.Debug("[%s] received batch of %d records", c.consumerType, len(records))
	return c.HandleBatch(records)
}

// HandleBatch persists each record and runs the consumer-kind strategy.
// Storage failures are fatal to the connection; strategy failures are not.
func (c *Controller) HandleBatch(records []types.Record) error {
	for i := range records {
		rec := &records[i]
		if _, err := c.store.Append(rec); err != nil {
			return err
		}

		var procErr error
		switch rec.EventType {
		case types.EventMessage:
			procErr = c.proc.HandleMessage(rec)
		case types.EventDelete:
			procErr = c.proc.HandleDelete(rec.MsgKey)
		default:
			util.Warn("[%s] unknown event type for key %s: %s", c.consumerType, rec.MsgKey, rec.EventType)
		}
		if procErr != nil {
			util.Error("[%s] processor failed for key %s: %v", c.consumerType, rec.MsgKey, procErr)
		}
	}
	return nil
}

// HandleReset clears all data and acknowledges. The ACK is the broker's
// signal to begin replay, so it must not be sent before the clear completes;
// on failure no ACK goes out and the error propagates as a connection fault.
func (c *Controller) HandleReset(msg types.BrokerMessage) error {
	if c.State() == StateReplaying {
		util.Warn("[%s] protocol error: RESET received while already replaying (msg %d), ignored",
			c.consumerType, msg.MessageID)
		metrics.ProtocolErrors.Inc()
		return nil
	}

	util.Info("[%s] received RESET (msg %d)", c.consumerType, msg.MessageID)

	if stats, err := c.store.Stats(); err != nil {
		util.Warn("[%s] failed to snapshot stats before reset: %v", c.consumerType, err)
	} else {
		util.Info("[%s] before RESET: segments=%d, records=%d, offsets=[%d, %d]",
			c.consumerType, stats.SegmentCount, stats.TotalRecords, stats.MinOffset, stats.MaxOffset)
	}

	if err := c.store.ClearAllData(); err != nil {
		return fmt.Errorf("RESET clear failed: %w", err)
	}

	if err := c.sender.Send(types.NewAck(msg)); err != nil {
		// Data is already cleared; staying in NORMAL lets the broker's
		// retried RESET run the (idempotent) clear again.
		return fmt.Errorf("RESET ack failed: %w", err)
	}

	c.state.Store(int32(StateReplaying))
	metrics.ResyncTotal.Inc()
	metrics.ReplayActive.Set(1)
	util.Info("[%s] ACK sent for RESET %d, awaiting replay", c.consumerType, msg.MessageID)
	return nil
}

// HandleReady flushes the open segment so post-refresh stats reflect the
// fully indexed state, then acknowledges and resumes normal flow.
func (c *Controller) HandleReady(msg types.BrokerMessage) error {
	if c.State() != StateReplaying {
		util.Warn("[%s] protocol error: READY without preceding RESET (msg %d), ignored",
			c.consumerType, msg.MessageID)
		metrics.ProtocolErrors.Inc()
		return nil
	}

	util.Info("[%s] received READY (msg %d), replay complete", c.consumerType, msg.MessageID)

	if err := c.store.FlushCurrentSegment(); err != nil {
		return fmt.Errorf("READY flush failed: %w", err)
	}

	if stats, err := c.store.Stats(); err != nil {
		util.Warn("[%s] failed to read stats after replay: %v", c.consumerType, err)
	} else {
		util.Info("[%s] after replay: segments=%d, records=%d, offsets=[%d, %d]",
			c.consumerType, stats.SegmentCount, stats.TotalRecords, stats.MinOffset, stats.MaxOffset)
	}

	if err := c.sender.Send(types.NewAck(msg)); err != nil {
		return fmt.Errorf("READY ack failed: %w", err)
	}

	c.state.Store(int32(StateNormal))
	metrics.ReplayActive.Set(0)
	util.Info("[%s] ACK sent for READY %d, normal flow resumed", c.consumerType, msg.MessageID)
	return nil
}

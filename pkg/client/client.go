package client

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/downfa11-org/go-consumer/pkg/config"
	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/downfa11-org/go-consumer/util"
	"github.com/google/uuid"
)

// Client owns the TCP connection to the broker. Inbound frames are decoded on
// a reader goroutine and pushed onto one ordered channel; a single dispatch
// goroutine drains that channel, so DATA and control messages reach the
// handler strictly in arrival order. Protocol ordering is structural, not
// assumed.
type Client struct {
	ID  string
	cfg *config.Config

	mu         sync.Mutex
	conn       net.Conn
	nextBroker int

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		ID:   uuid.New().String(),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Send writes one message to the broker. Implements the controller's
// AckSender. On a compression-enabled connection every non-empty payload is
// compressed, in both directions.
func (c *Client) Send(msg types.BrokerMessage) error {
	if len(msg.Payload) > 0 && c.compressionEnabled() {
		payload, err := util.CompressPayload(msg.Payload, c.cfg.Compression)
		if err != nil {
			return fmt.Errorf("compress %s payload failed: %w", msg.Type, err)
		}
		msg.Payload = payload
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected to broker")
	}
	if err := util.WriteFrame(c.conn, util.EncodeBrokerMessage(msg)); err != nil {
		return fmt.Errorf("send %s failed: %w", msg.Type, err)
	}
	return nil
}

// Run connects (with failover across configured brokers) and serves the
// connection until Close is called. A connection-level fault, including a
// handler error, tears the connection down and reconnects; the broker
// re-drives any unacknowledged control sequence.
func (c *Client) Run(handler func(types.BrokerMessage) error) error {
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		conn, err := c.connectWithFailover()
		if err != nil {
			return err
		}
		c.setConn(conn)

		if err := c.subscribe(); err != nil {
			util.Error("subscribe failed: %v", err)
			c.closeConn()
			continue
		}

		c.serve(conn, handler)

		select {
		case <-c.done:
			return nil
		default:
			util.Warn("broker connection lost, reconnecting")
		}
	}
}

// Close stops the run loop and releases the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeConn()
	})
}

func (c *Client) connectWithFailover() (net.Conn, error) {
	backoff := time.Duration(c.cfg.ConnectRetryBackoffMS) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxConnectRetries; attempt++ {
		for range c.cfg.BrokerAddrs {
			addr := c.pickBroker()
			conn, err := net.Dial("tcp", addr)
			if err == nil {
				if tcpConn, ok := conn.(*net.TCPConn); ok {
					if err := tcpConn.SetKeepAlive(true); err == nil {
						_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
					}
				}
				util.Info("[%s] connected to broker %s", c.cfg.ConsumerType, addr)
				return conn, nil
			}
			lastErr = err
			util.Warn("failed to connect to %s: %v", addr, err)
		}

		select {
		case <-c.done:
			return nil, fmt.Errorf("client closed")
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("failed to connect to all brokers: %w", lastErr)
}

func (c *Client) compressionEnabled() bool {
	return c.cfg.Compression != "" && c.cfg.Compression != "none"
}

func (c *Client) pickBroker() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := c.cfg.BrokerAddrs[c.nextBroker%len(c.cfg.BrokerAddrs)]
	c.nextBroker++
	return addr
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			util.Debug("connection close error: %v", err)
		}
		c.conn = nil
	}
}

// subscribe registers this consumer for every configured topic.
func (c *Client) subscribe() error {
	for _, topic := range c.cfg.Topics {
		payload, err := json.Marshal(map[string]string{
			"topic":    topic,
			"group":    c.cfg.Group,
			"clientId": c.ID,
		})
		if err != nil {
			return err
		}

		msg := types.BrokerMessage{
			Type:      types.MessageSubscribe,
			MessageID: uint64(time.Now().UnixMilli()),
			Payload:   payload,
		}
		if err := c.Send(msg); err != nil {
			return fmt.Errorf("SUBSCRIBE for topic %s failed: %w", topic, err)
		}
		util.Info("[%s] subscribed to topic %s (group %s)", c.cfg.ConsumerType, topic, c.cfg.Group)
	}
	return nil
}

// serve reads frames into the ordered event channel and dispatches them
// sequentially until the connection dies or the handler reports a fault.
func (c *Client) serve(conn net.Conn, handler func(types.BrokerMessage) error) {
	events := make(chan types.BrokerMessage, c.cfg.DispatchBufferSize)

	go func() {
		defer close(events)
		for {
			body, err := util.ReadFrame(conn)
			if err != nil {
				select {
				case <-c.done:
				default:
					util.Debug("read loop ended: %v", err)
				}
				return
			}
			if body == nil {
				// keepalive
				continue
			}

			msg, err := util.DecodeBrokerMessage(body)
			if err != nil {
				util.Warn("dropping undecodable frame: %v", err)
				continue
			}

			if len(msg.Payload) > 0 && c.compressionEnabled() {
				payload, err := util.DecompressPayload(msg.Payload, c.cfg.Compression)
				if err != nil {
					util.Error("failed to decompress %s payload: %v", msg.Type, err)
					continue
				}
				msg.Payload = payload
			}

			events <- msg
		}
	}()

	for msg := range events {
		if err := handler(msg); err != nil {
			util.Error("[%s] connection fault while handling %s: %v", c.cfg.ConsumerType, msg.Type, err)
			break
		}
	}

	c.closeConn()
	for range events {
		// drop queued events; the broker re-drives unacknowledged sequences
	}
}

// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the Bondly gateway and the matchmaking service. It handles
// connection lifecycle, subject-based subscriptions, and convenience methods
// for the pairing and session channels.
package messaging

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Bondly services. Per-user subjects are
// suffixed with the decimal user ID.
const (
	SubjectPairRequest    = "pair.request"
	SubjectPairCancel     = "pair.cancel"
	SubjectPairFound      = "pair.found"  // + .<user_id>
	SubjectPairStatus     = "pair.status" // + .<user_id>
	SubjectSessionSend    = "session.send"
	SubjectSessionControl = "session.control" // leave/next/block/rate/delete
	SubjectSessionRelay   = "session.relay"   // + .<user_id>
	SubjectSessionEnded   = "session.ended"   // + .<user_id>
	SubjectWaitingEvicted = "waiting.evicted" // + .<user_id>
)

// UserSubject appends a user ID to a subject prefix.
func UserSubject(prefix string, userID int64) string {
	return prefix + "." + strconv.FormatInt(userID, 10)
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "bondly",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup. Subscribing twice to the same
// subject replaces the previous subscription.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	prev := c.subs[subject]
	c.subs[subject] = sub
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Unsubscribe()
	}

	return nil
}

// subscribeRaw subscribes and passes only the message payload to the handler.
func (c *NATSClient) subscribeRaw(subject string, handler func(data []byte)) error {
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// --- command subjects (gateway -> matchd) ---

// PublishPairRequest asks the matchmaking service to enqueue a user.
func (c *NATSClient) PublishPairRequest(data []byte) error {
	return c.Publish(SubjectPairRequest, data)
}

// SubscribePairRequest receives pair requests from gateways.
func (c *NATSClient) SubscribePairRequest(handler func(data []byte)) error {
	return c.subscribeRaw(SubjectPairRequest, handler)
}

// PublishPairCancel cancels a user's partner search.
func (c *NATSClient) PublishPairCancel(data []byte) error {
	return c.Publish(SubjectPairCancel, data)
}

// SubscribePairCancel receives search cancellations from gateways.
func (c *NATSClient) SubscribePairCancel(handler func(data []byte)) error {
	return c.subscribeRaw(SubjectPairCancel, handler)
}

// PublishSessionSend forwards a user's chat message to the matchmaking
// service for counting and relay.
func (c *NATSClient) PublishSessionSend(data []byte) error {
	return c.Publish(SubjectSessionSend, data)
}

// SubscribeSessionSend receives chat messages from gateways.
func (c *NATSClient) SubscribeSessionSend(handler func(data []byte)) error {
	return c.subscribeRaw(SubjectSessionSend, handler)
}

// PublishSessionControl forwards a session control command (leave, next,
// block, rate, delete) to the matchmaking service.
func (c *NATSClient) PublishSessionControl(data []byte) error {
	return c.Publish(SubjectSessionControl, data)
}

// SubscribeSessionControl receives session control commands from gateways.
func (c *NATSClient) SubscribeSessionControl(handler func(data []byte)) error {
	return c.subscribeRaw(SubjectSessionControl, handler)
}

// --- event subjects (matchd -> gateway, per user) ---

// PublishPairFound notifies a user that a partner was found.
func (c *NATSClient) PublishPairFound(userID int64, data []byte) error {
	return c.Publish(UserSubject(SubjectPairFound, userID), data)
}

// SubscribePairFound subscribes to match notifications for a user.
func (c *NATSClient) SubscribePairFound(userID int64, handler func(data []byte)) error {
	return c.subscribeRaw(UserSubject(SubjectPairFound, userID), handler)
}

// PublishPairStatus sends a search status update to a user.
func (c *NATSClient) PublishPairStatus(userID int64, data []byte) error {
	return c.Publish(UserSubject(SubjectPairStatus, userID), data)
}

// SubscribePairStatus subscribes to search status updates for a user.
func (c *NATSClient) SubscribePairStatus(userID int64, handler func(data []byte)) error {
	return c.subscribeRaw(UserSubject(SubjectPairStatus, userID), handler)
}

// PublishSessionRelay delivers a partner's message to a user.
func (c *NATSClient) PublishSessionRelay(userID int64, data []byte) error {
	return c.Publish(UserSubject(SubjectSessionRelay, userID), data)
}

// SubscribeSessionRelay subscribes to relayed partner messages for a user.
func (c *NATSClient) SubscribeSessionRelay(userID int64, handler func(data []byte)) error {
	return c.subscribeRaw(UserSubject(SubjectSessionRelay, userID), handler)
}

// PublishSessionEnded notifies a user that their session ended.
func (c *NATSClient) PublishSessionEnded(userID int64, data []byte) error {
	return c.Publish(UserSubject(SubjectSessionEnded, userID), data)
}

// SubscribeSessionEnded subscribes to session-ended events for a user.
func (c *NATSClient) SubscribeSessionEnded(userID int64, handler func(data []byte)) error {
	return c.subscribeRaw(UserSubject(SubjectSessionEnded, userID), handler)
}

// PublishWaitingEvicted notifies a user that their search timed out.
func (c *NATSClient) PublishWaitingEvicted(userID int64, data []byte) error {
	return c.Publish(UserSubject(SubjectWaitingEvicted, userID), data)
}

// SubscribeWaitingEvicted subscribes to search eviction events for a user.
func (c *NATSClient) SubscribeWaitingEvicted(userID int64, handler func(data []byte)) error {
	return c.subscribeRaw(UserSubject(SubjectWaitingEvicted, userID), handler)
}

// UnsubscribeUser drops every per-user subscription for a user. Called by the
// gateway when the user's connection closes.
func (c *NATSClient) UnsubscribeUser(userID int64) {
	for _, prefix := range []string{
		SubjectPairFound,
		SubjectPairStatus,
		SubjectSessionRelay,
		SubjectSessionEnded,
		SubjectWaitingEvicted,
	} {
		_ = c.unsubscribe(UserSubject(prefix, userID))
	}
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Package push implements the message-queue listener that drives live
// subscription and account updates (§4.9 "Push channel", §6). Each topic
// runs its own blocking Receive loop; messages carrying our own
// sourceAnonymousAppID are dropped before any callback runs (self-echo
// suppression, §9).
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Message is the decoded body of one push notification (§6 "Push topics").
type Message struct {
	Command              string          `json:"command"`
	SourceAnonymousAppID string          `json:"sourceAnonymousAppID"`
	ServerTimestamp      int64           `json:"serverTimestamp"`
	Extra                json.RawMessage `json:"-"`
}

// Handler processes one non-self-echo Message received on a topic.
type Handler func(msg Message)

// Channel manages one subscriber connection per topic, fanning decoded,
// self-echo-filtered messages out to per-topic Handlers (§4.9 "Push
// channel" state machine: disconnected -> connecting -> connected).
type Channel struct {
	client         *pubsub.Client
	anonymousAppID string
	logger         *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewChannel returns a Channel bound to client. anonymousAppID is this
// installation's own identity, used to drop self-echoed messages.
func NewChannel(client *pubsub.Client, anonymousAppID string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		client:         client,
		anonymousAppID: anonymousAppID,
		logger:         logger,
		cancels:        make(map[string]context.CancelFunc),
	}
}

// UserTopic returns the subscription-queue name for a linked user account.
func UserTopic(userID string) string {
	return "user-" + userID
}

// SubscriptionTopic returns the subscription-queue name for one
// Subscription, keyed by its shortUnsecretURL (§6).
func SubscriptionTopic(shortUnsecretURL string) string {
	return "subscription-" + shortUnsecretURL
}

// ListenUser opens (or replaces) the listener for the linked user's topic.
func (c *Channel) ListenUser(ctx context.Context, userID string, handler Handler) error {
	return c.listen(ctx, UserTopic(userID), handler)
}

// ListenSubscription opens (or replaces) the listener for one Subscription's
// topic, keyed by its shortUnsecretURL (§6).
func (c *Channel) ListenSubscription(ctx context.Context, shortUnsecretURL string, handler Handler) error {
	return c.listen(ctx, SubscriptionTopic(shortUnsecretURL), handler)
}

func (c *Channel) listen(ctx context.Context, topicID string, handler Handler) error {
	c.Stop(topicID)

	sub := c.client.Subscription(topicID)
	listenCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancels[topicID] = cancel
	c.mu.Unlock()

	go func() {
		err := sub.Receive(listenCtx, func(_ context.Context, m *pubsub.Message) {
			var msg Message
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				c.logger.Warn("push: malformed message", "topic", topicID, "error", err)
				m.Ack()
				return
			}
			msg.Extra = m.Data

			if msg.SourceAnonymousAppID != "" && msg.SourceAnonymousAppID == c.anonymousAppID {
				m.Ack()
				return
			}

			handler(msg)
			m.Ack()
		})
		if err != nil && listenCtx.Err() == nil {
			c.logger.Error("push: receive loop ended", "topic", topicID, "error", err)
		}
	}()

	return nil
}

// Stop tears down the listener for topicID, if any. Safe to call on a topic
// with no active listener.
func (c *Channel) Stop(topicID string) {
	c.mu.Lock()
	cancel, ok := c.cancels[topicID]
	if ok {
		delete(c.cancels, topicID)
	}
	c.mu.Unlock()

	if ok {
		cancel()
	}
}

// StopUser tears down the listener for userID's topic.
func (c *Channel) StopUser(userID string) {
	c.Stop(UserTopic(userID))
}

// StopSubscription tears down the listener for a Subscription's topic.
func (c *Channel) StopSubscription(shortUnsecretURL string) {
	c.Stop(SubscriptionTopic(shortUnsecretURL))
}

// StopAll tears down every active listener, used by quit() (§4.9).
func (c *Channel) StopAll() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = make(map[string]context.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// ActiveTopics reports the topics currently listened to, for tests and
// diagnostics.
func (c *Channel) ActiveTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.cancels))
	for topic := range c.cancels {
		topics = append(topics, topic)
	}
	return topics
}

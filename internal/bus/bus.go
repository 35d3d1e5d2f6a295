// internal/bus/bus.go
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by Post once Shutdown has started.
var ErrClosed = errors.New("message bus is shut down")

// Message is the envelope for data transmitted over the Bus.
type Message struct {
	ID        string
	Timestamp time.Time
	Type      MessageType
	Payload   interface{}
}

// Bus is a typed pub/sub channel between the orchestrator and the dispatchers bound to
// browser tabs. Every delivered message must be acknowledged by its consumer.
type Bus struct {
	logger *zap.Logger

	subscribers map[MessageType][]chan Message
	mu          sync.RWMutex
	bufferSize  int

	// processingWg tracks delivered but unacknowledged messages.
	processingWg sync.WaitGroup
	// activePostsWg tracks Post calls still attempting delivery.
	activePostsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// New initializes the Bus.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:       logger.Named("bus"),
		subscribers:  make(map[MessageType][]chan Message),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post sends a message to every subscriber of its type. Blocks while subscriber buffers
// are full. Posting a type nobody listens to is not an error.
func (b *Bus) Post(ctx context.Context, msgType MessageType, payload interface{}) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return ErrClosed
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      msgType,
		Payload:   payload,
	}

	b.logger.Debug("Posting message", zap.String("type", string(msg.Type)), zap.String("id", msg.ID))

	b.mu.RLock()
	subscribers, ok := b.subscribers[msg.Type]
	if !ok || len(subscribers) == 0 {
		b.mu.RUnlock()
		return nil
	}
	// Copy so the lock is not held during channel sends.
	subsCopy := make([]chan Message, len(subscribers))
	copy(subsCopy, subscribers)
	b.mu.RUnlock()

	for _, ch := range subsCopy {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return ErrClosed
		}
	}
	return nil
}

// Subscribe returns a channel receiving the given message types and a func that removes
// the subscription. The channel is closed by Shutdown, never by unsubscribe.
func (b *Bus) Subscribe(msgTypes ...MessageType) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdownLocked() {
		closedCh := make(chan Message)
		close(closedCh)
		return closedCh, func() {}
	}

	if len(msgTypes) == 0 {
		panic("must subscribe to at least one message type")
	}

	ch := make(chan Message, b.bufferSize)
	subscribedTypes := make([]MessageType, len(msgTypes))
	copy(subscribedTypes, msgTypes)

	for _, msgType := range subscribedTypes {
		b.subscribers[msgType] = append(b.subscribers[msgType], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, msgType := range subscribedTypes {
			subs, exists := b.subscribers[msgType]
			if !exists {
				continue
			}
			for i, subscriberCh := range subs {
				if subscriberCh == ch {
					copy(subs[i:], subs[i+1:])
					b.subscribers[msgType] = subs[:len(subs)-1]
					if len(b.subscribers[msgType]) == 0 {
						delete(b.subscribers, msgType)
					}
					break
				}
			}
		}
	}

	return ch, unsubscribe
}

// HasSubscribers reports whether anyone currently listens to msgType.
func (b *Bus) HasSubscribers(msgType MessageType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[msgType]) > 0
}

func (b *Bus) isShutdownLocked() bool {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.isShutdown
}

// Release acknowledges every message still buffered in ch without processing it.
// Consumers call it after unsubscribing so Shutdown does not wait on them.
func (b *Bus) Release(ch <-chan Message) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			b.processingWg.Done()
			n++
		default:
			return n
		}
	}
}

// Acknowledge signals that a message has been processed by a consumer.
func (b *Bus) Acknowledge(msg Message) {
	b.processingWg.Done()
}

// Shutdown closes every subscriber channel and waits for in-flight messages to be
// acknowledged. Safe to call more than once.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Info("Shutting down message bus...")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePostsWg.Wait()

		b.mu.Lock()
		uniqueChannels := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				uniqueChannels[ch] = struct{}{}
			}
		}
		// No Post is sending anymore, so closing is safe.
		for ch := range uniqueChannels {
			close(ch)
		}
		// Buffered messages were counted as delivered; release them.
		drainedCount := 0
		for ch := range uniqueChannels {
			for range ch {
				drainedCount++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[MessageType][]chan Message)
		b.mu.Unlock()

		if drainedCount > 0 {
			b.logger.Debug("Drained buffered messages during shutdown.", zap.Int("count", drainedCount))
		}

		b.processingWg.Wait()
		b.logger.Info("Message bus shut down gracefully.")
	})
}

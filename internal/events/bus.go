package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	TorrentAdded      Kind = "added"
	TorrentStarted    Kind = "started"
	TorrentStopped    Kind = "stopped"
	TorrentCompleted  Kind = "completed"
	TorrentRemoved    Kind = "removed"
	TorrentError      Kind = "error"
	TransferStarted   Kind = "transfer_started"
	TransferCompleted Kind = "transfer_completed"
)

// Event is one typed state transition published by the gateway, the poller
// and the transfer manager.
type Event struct {
	Kind        Kind           `json:"kind"`
	OwnerUserID string         `json:"user_id"`
	BackendID   string         `json:"backend_id,omitempty"`
	TorrentHash string         `json:"torrent_hash,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Subscriber receives every published event. Deliveries are sequential per
// subscriber; a slow subscriber must not block others, so Deliver is called
// on the bus goroutine and should hand off long work itself.
type Subscriber interface {
	Deliver(ctx context.Context, evt Event)
}

// Bus fans events out to registered subscribers from a single dispatch
// goroutine, keeping publish non-blocking.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs []Subscriber

	ch   chan Event
	done chan struct{}
	once sync.Once
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger: logger,
		ch:     make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Publish never blocks; events are dropped with a warning when the queue is
// full.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- evt:
	default:
		b.logger.Warn("event dropped", slog.String("kind", string(evt.Kind)))
	}
}

func (b *Bus) run() {
	for {
		select {
		case <-b.done:
			return
		case evt := <-b.ch:
			b.mu.RLock()
			subs := make([]Subscriber, len(b.subs))
			copy(subs, b.subs)
			b.mu.RUnlock()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			for _, sub := range subs {
				sub.Deliver(ctx, evt)
			}
			cancel()
		}
	}
}

func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}

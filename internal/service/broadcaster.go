package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"parkd/internal/entities"
)

// subscriberBuffer bounds how far a slow subscriber may lag before updates are
// dropped for it.
const subscriberBuffer = 16

// Transport forwards availability updates to out-of-process subscribers, for
// example a message broker topic per site.
type Transport interface {
	Publish(ctx context.Context, siteID string, update entities.AvailabilityUpdate) error
}

type subscriber struct {
	id uint64
	ch chan entities.AvailabilityUpdate
}

// Broadcaster fans availability updates out to subscribers keyed by site. A
// subscriber receives every vehicle type at its site. Delivery is at most once:
// nothing is queued for absent subscribers and a full buffer drops the update.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string][]subscriber
	nextID    atomic.Uint64
	closed    bool
	transport Transport
	metrics   *Metrics
	logger    *zap.Logger
}

func NewBroadcaster(transport Transport, metrics *Metrics, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:      make(map[string][]subscriber),
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe registers a subscriber for siteID. The returned cancel func
// deregisters it and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(siteID string) (<-chan entities.AvailabilityUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscriber{id: b.nextID.Add(1), ch: make(chan entities.AvailabilityUpdate, subscriberBuffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[siteID] = append(b.subs[siteID], sub)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.unsubscribe(siteID, sub.id) })
	}
}

func (b *Broadcaster) unsubscribe(siteID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[siteID]
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			b.subs[siteID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[siteID]) == 0 {
		delete(b.subs, siteID)
	}
}

// Publish pushes the snapshot to local subscribers of its site and then to the
// transport. Callers hold the pool lock, so updates for one pool leave in the
// order they were persisted.
func (b *Broadcaster) Publish(ctx context.Context, snap entities.OccupancySnapshot, updatedAt string) {
	update := entities.AvailabilityUpdate{
		SiteID:          snap.SiteID,
		VehicleType:     snap.VehicleType,
		AvailableSpots:  snap.AvailableSpots,
		OccupiedActive:  snap.OccupiedActive,
		OccupiedPending: snap.OccupiedPending,
		AsOf:            snap.AsOf,
		UpdatedAt:       updatedAt,
	}

	b.mu.RLock()
	for _, s := range b.subs[snap.SiteID] {
		select {
		case s.ch <- update:
		default:
			b.logger.Debug("dropping availability update for slow subscriber",
				zap.String("site_id", snap.SiteID), zap.Uint64("subscriber", s.id))
		}
	}
	b.mu.RUnlock()

	if b.transport == nil {
		return
	}
	if err := b.transport.Publish(ctx, snap.SiteID, update); err != nil {
		b.metrics.broadcastFailed()
		b.logger.Warn("failed to publish availability update",
			zap.String("site_id", snap.SiteID),
			zap.String("vehicle_type", snap.VehicleType),
			zap.Error(err))
	}
}

// SubscriberCount returns the number of local subscribers for siteID.
func (b *Broadcaster) SubscriberCount(siteID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[siteID])
}

// Close drops every subscriber. Later subscriptions receive a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for site, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, site)
	}
	b.closed = true
}

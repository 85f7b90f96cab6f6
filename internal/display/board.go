package display

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// Snapshot is a copy of what the board currently shows
type Snapshot struct {
	West      models.DirectionalArrivalList `json:"west"`
	East      models.DirectionalArrivalList `json:"east"`
	Alert     models.AlertState             `json:"alert"`
	Status    models.FeedStatus             `json:"status"`
	UpdatedAt time.Time                     `json:"updatedAt"`
}

// Board keeps the latest rendered state in memory for the HTTP API. Writes
// come from the polling goroutine, reads from request handlers.
type Board struct {
	mu        sync.RWMutex
	westID    string
	eastID    string
	west      models.DirectionalArrivalList
	east      models.DirectionalArrivalList
	alert     models.AlertState
	status    models.FeedStatus
	updatedAt time.Time
	now       func() time.Time
}

func NewBoard(westContainerID, eastContainerID string) *Board {
	return &Board{
		westID: westContainerID,
		eastID: eastContainerID,
		west:   models.DirectionalArrivalList{},
		east:   models.DirectionalArrivalList{},
		status: models.FeedStale,
		now:    time.Now,
	}
}

func (b *Board) RenderArrivals(_ context.Context, containerID string, list models.DirectionalArrivalList) error {
	copied := append(models.DirectionalArrivalList{}, list...)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch containerID {
	case b.westID:
		b.west = copied
	case b.eastID:
		b.east = copied
	default:
		return fmt.Errorf("unknown container %q", containerID)
	}
	b.updatedAt = b.now()
	return nil
}

func (b *Board) RenderAlert(_ context.Context, state models.AlertState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alert = state
	return nil
}

func (b *Board) RenderStatus(_ context.Context, status models.FeedStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	return nil
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Snapshot{
		West:      append(models.DirectionalArrivalList{}, b.west...),
		East:      append(models.DirectionalArrivalList{}, b.east...),
		Alert:     b.alert,
		Status:    b.status,
		UpdatedAt: b.updatedAt,
	}
}

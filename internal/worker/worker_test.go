package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"repair-shop-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProjection struct {
	events []*models.PartStockChangedEvent
	syncs  int
}

func (p *recordingProjection) HandleStockChanged(_ context.Context, event *models.PartStockChangedEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingProjection) SyncStockToCache(context.Context) error {
	p.syncs++
	return nil
}

func TestStockWorkerRoutesEventsToProjection(t *testing.T) {
	projection := &recordingProjection{}
	w := NewStockWorker(nil, projection)

	value, err := json.Marshal(&models.PartStockChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePartStockChanged, Timestamp: time.Now()},
		PartID:    "p1",
		Delta:     -1,
		Quantity:  4,
		Version:   3,
	})
	require.NoError(t, err)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), kafka.Message{Value: value}))
	require.Len(t, projection.events, 1)
	assert.Equal(t, "p1", projection.events[0].PartID)
	assert.Equal(t, int64(3), projection.events[0].Version)
}

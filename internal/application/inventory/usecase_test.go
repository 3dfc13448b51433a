package inventory

import (
	"context"
	"sync"
	"testing"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestLowStockAlert(t *testing.T) {
	cases := []struct {
		name    string
		event   dominv.StockChangedEvent
		alerted bool
	}{
		{
			name:    "decrement below threshold",
			event:   dominv.NewStockChangedEvent("p1", -2, dominv.Record{Quantity: 1, InStock: true, LowStockThreshold: 2}),
			alerted: true,
		},
		{
			name:  "decrement above threshold",
			event: dominv.NewStockChangedEvent("p1", -1, dominv.Record{Quantity: 8, InStock: true, LowStockThreshold: 2}),
		},
		{
			name:  "restock still low",
			event: dominv.NewStockChangedEvent("p1", 1, dominv.Record{Quantity: 1, InStock: true, LowStockThreshold: 2}),
		},
		{
			name:  "no threshold",
			event: dominv.NewStockChangedEvent("p1", -5, dominv.Record{Quantity: 0}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			uc := NewLowStockAlertUseCase(pub, observability.Nop())

			res, err := uc.Execute(context.Background(), tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.alerted, res.Alerted)
			if !tc.alerted {
				assert.Empty(t, pub.events)
				return
			}
			require.Len(t, pub.events, 1)
			low, ok := pub.events[0].(dominv.LowStockEvent)
			require.True(t, ok)
			assert.Equal(t, "p1", low.ProductID)
			assert.Equal(t, 1, low.Quantity)
		})
	}
}

func TestWorkerRoutesStockChanged(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewWorker(NewLowStockAlertUseCase(pub, observability.Nop()))

	h, ok := w.Handlers()["inventory.stock_changed"]
	require.True(t, ok)

	evt := dominv.NewStockChangedEvent("p1", -1, dominv.Record{Quantity: 0, LowStockThreshold: 1})
	require.NoError(t, h(context.Background(), evt))
	require.NoError(t, h(context.Background(), dominv.NewLowStockEvent("p1", 0)))
	assert.Len(t, pub.events, 1)
}

package notify

import (
	"context"

	"go-helpdesk-insights-ui/internal/connectors/statedb"
)

// SQLiteMarker stores the marker as a row of the state DB. Swaps are a
// conditional UPDATE, atomic across processes sharing the file.
type SQLiteMarker struct {
	store *statedb.Store
	key   string
}

func NewSQLiteMarker(store *statedb.Store, key string) *SQLiteMarker {
	return &SQLiteMarker{store: store, key: key}
}

func (m *SQLiteMarker) Last(ctx context.Context) (float64, error) {
	ts, _, err := m.store.Marker(ctx, m.key)
	return ts, err
}

func (m *SQLiteMarker) Record(ctx context.Context, ts float64) error {
	return m.store.SetMarker(ctx, m.key, ts)
}

func (m *SQLiteMarker) CompareAndSwap(ctx context.Context, old, next float64) (bool, error) {
	return m.store.SwapMarker(ctx, m.key, old, next)
}

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/andys/listimport/schema"
	"github.com/andys/listimport/store"
)

// fakeSession records everything written to it
type fakeSession struct {
	mu          sync.Mutex
	fields      []schema.Field
	nextID      int64
	createCalls int
	batches     [][]store.Item
	updates     [][]store.TimestampUpdate

	// createErr is consulted before each CreateItems call (1-based)
	createErr func(call int) error
	// itemErr rejects individual items within a committed batch
	itemErr   func(item store.Item) error
	updateErr error
}

func (f *fakeSession) ListFields(ctx context.Context, list string) ([]schema.Field, error) {
	return f.fields, nil
}

func (f *fakeSession) CreateItems(ctx context.Context, list string, items []store.Item) ([]store.ItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		if err := f.createErr(f.createCalls); err != nil {
			return nil, err
		}
	}

	results := make([]store.ItemResult, len(items))
	for i, item := range items {
		if f.itemErr != nil {
			if err := f.itemErr(item); err != nil {
				results[i] = store.ItemResult{Err: err}
				continue
			}
		}
		f.nextID++
		results[i] = store.ItemResult{ID: f.nextID}
	}
	f.batches = append(f.batches, items)
	return results, nil
}

func (f *fakeSession) OverwriteTimestamps(ctx context.Context, list string, updates []store.TimestampUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updates)
	return nil
}

func (f *fakeSession) Close() error {
	return nil
}

func (f *fakeSession) items() []store.Item {
	var all []store.Item
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

// sleepRecorder replaces real sleeping in tests
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
}

func testFields() []schema.Field {
	return []schema.Field{
		{Name: "id", Type: "int", IsID: true},
		{Name: "Title", Type: "varchar"},
		{Name: "Status", Type: "enum", Kind: schema.Choice, Choices: schema.NewChoiceSet("Active", "Inactive")},
		{Name: "Tags", Type: "set", Kind: schema.MultiChoice, Choices: schema.NewChoiceSet("Red", "Green")},
		{Name: "Created", Type: "datetime"},
		{Name: "Modified", Type: "datetime"},
	}
}

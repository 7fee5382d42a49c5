package worker

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andys/listimport/mapper"
	"github.com/andys/listimport/store"
)

// TitleTimestampFormat is appended to the title prefix when a record has no title
const TitleTimestampFormat = "20060102_150405"

// WriterProgress tracks the progress of writing operations
type WriterProgress struct {
	Batches           atomic.Int64
	BatchesLost       atomic.Int64
	RecordsLost       atomic.Int64
	ItemsCreated      atomic.Int64
	ItemsFailed       atomic.Int64
	TimestampsApplied atomic.Int64
	TimestampFailures atomic.Int64
	StartTime         time.Time
}

// SubmitOptions configures a Submitter
type SubmitOptions struct {
	List string

	PreserveDates bool
	CreatedField  string
	ModifiedField string
	Location      *time.Location

	// TitleField receives TitlePrefix plus the current time when a record has no value for it.
	// An empty TitleField disables the fallback.
	TitleField  string
	TitlePrefix string

	Backoff Backoff
	Now     func() time.Time
}

// ItemFailure records an item the destination refused within an otherwise committed batch
type ItemFailure struct {
	Row int64
	Err error
}

// BatchResult is the outcome of submitting one batch
type BatchResult struct {
	Number   int
	Size     int
	Created  int
	Failures []ItemFailure
	Attempts int
	Err      error // Creation transaction failed; nothing in the batch was created

	TimestampsApplied int
	TimestampErr      error // Timestamp overwrite failed; created items are kept
}

// Lost reports whether the whole batch was lost
func (r BatchResult) Lost() bool {
	return r.Err != nil
}

// Submitter writes batches to the destination list
type Submitter struct {
	session  store.Session
	opts     SubmitOptions
	progress *WriterProgress
}

// NewSubmitter creates a batch submitter
func NewSubmitter(session store.Session, opts SubmitOptions) *Submitter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Submitter{
		session: session,
		opts:    opts,
		progress: &WriterProgress{
			StartTime: opts.Now(),
		},
	}
}

// Submit creates the batch's items in one transaction, then overwrites
// retained timestamps of the created items in a second one
func (s *Submitter) Submit(ctx context.Context, number int, batch []mapper.Record) BatchResult {
	res := BatchResult{Number: number, Size: len(batch)}
	if len(batch) == 0 {
		return res
	}
	s.progress.Batches.Add(1)

	items := make([]store.Item, len(batch))
	for i, rec := range batch {
		items[i] = s.buildItem(rec)
	}

	var results []store.ItemResult
	attempts, err := s.opts.Backoff.Do(ctx, func() error {
		var err error
		results, err = s.session.CreateItems(ctx, s.opts.List, items)
		return err
	})
	res.Attempts = attempts
	if err == nil && len(results) != len(items) {
		err = fmt.Errorf("destination returned %d results for %d items", len(results), len(items))
	}
	if err != nil {
		res.Err = fmt.Errorf("failed to create items for batch %d: %w", number, err)
		s.progress.BatchesLost.Add(1)
		s.progress.RecordsLost.Add(int64(len(batch)))
		return res
	}

	var updates []store.TimestampUpdate
	for i, r := range results {
		if r.Err != nil {
			res.Failures = append(res.Failures, ItemFailure{Row: batch[i].Row, Err: r.Err})
			continue
		}
		res.Created++
		if s.opts.PreserveDates && batch[i].HasTimestamps {
			if u, ok := s.timestampUpdate(r.ID, batch[i]); ok {
				updates = append(updates, u)
			}
		}
	}
	s.progress.ItemsCreated.Add(int64(res.Created))
	s.progress.ItemsFailed.Add(int64(len(res.Failures)))

	if len(updates) > 0 {
		_, err := s.opts.Backoff.Do(ctx, func() error {
			return s.session.OverwriteTimestamps(ctx, s.opts.List, updates)
		})
		if err != nil {
			res.TimestampErr = fmt.Errorf("failed to overwrite timestamps for batch %d: %w", number, err)
			s.progress.TimestampFailures.Add(int64(len(updates)))
		} else {
			res.TimestampsApplied = len(updates)
			s.progress.TimestampsApplied.Add(int64(len(updates)))
		}
	}

	return res
}

// buildItem copies the record's fields, leaving out the retained timestamp
// fields and filling in a title when the record has none
func (s *Submitter) buildItem(rec mapper.Record) store.Item {
	item := make(store.Item, len(rec.Fields)+1)
	for name, value := range rec.Fields {
		if s.opts.PreserveDates && (name == s.opts.CreatedField || name == s.opts.ModifiedField) {
			continue
		}
		item[name] = value
	}

	if s.opts.TitleField != "" && isBlank(item[s.opts.TitleField]) {
		item[s.opts.TitleField] = s.opts.TitlePrefix + s.opts.Now().Format(TitleTimestampFormat)
	}
	return item
}

func isBlank(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []string:
		return len(val) == 0
	default:
		return false
	}
}

func (s *Submitter) timestampUpdate(id int64, rec mapper.Record) (store.TimestampUpdate, bool) {
	u := store.TimestampUpdate{ID: id}
	if t, ok := mapper.ParseTimestamp(rec.Created, s.opts.Location); ok {
		u.Created = t
	}
	if t, ok := mapper.ParseTimestamp(rec.Modified, s.opts.Location); ok {
		u.Modified = t
	}
	if u.Created.IsZero() && u.Modified.IsZero() {
		return u, false
	}
	return u, true
}

// GetProgress returns the current progress counters
func (s *Submitter) GetProgress() *WriterProgress {
	return s.progress
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/andys/listimport/logging"
	"github.com/andys/listimport/mapper"
	"github.com/andys/listimport/schema"
	"github.com/andys/listimport/store"
)

// ErrEmptyColumnMap is returned when no source column is mapped
var ErrEmptyColumnMap = errors.New("column map must contain at least one entry")

// State is a stage of an import run
type State int

const (
	Idle State = iota
	Reading
	Truncating
	Importing
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Truncating:
		return "truncating"
	case Importing:
		return "importing"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures an import run
type Options struct {
	List      string
	ColumnMap map[string]string
	BatchSize int
	Limit     int // Test run row limit; 0 imports every row

	// ValidateOnly maps every row and reports warnings without writing
	ValidateOnly bool

	PreserveDates bool
	TrimChoices   bool
	CreatedField  string
	ModifiedField string
	Location      *time.Location

	TitleField  string
	TitlePrefix string

	Throttle Throttle
	Backoff  Backoff
	Workers  int
	Now      func() time.Time
}

// Result summarises an import run
type Result struct {
	RowsRead          int64
	Warnings          int64
	Batches           int
	ItemsCreated      int64
	ItemsFailed       int64
	BatchesLost       int64
	RecordsLost       int64
	TimestampsApplied int64
	TimestampFailures int64
	Elapsed           time.Duration
}

// Importer drives an import from a row source into a destination list
type Importer struct {
	opts      Options
	cls       schema.Classification
	submitter *Submitter
	logger    *slog.Logger
	state     State
}

type mapped struct {
	record   mapper.Record
	warnings []mapper.InvalidChoice
}

// NewImporter validates the options against the list's fields and prepares an import.
// Nothing is written to the destination until Run is called.
func NewImporter(session store.Session, fields []schema.Field, opts Options, logger *slog.Logger) (*Importer, error) {
	if opts.BatchSize < 1 {
		return nil, ErrInvalidBatchSize
	}
	if len(opts.ColumnMap) == 0 {
		return nil, ErrEmptyColumnMap
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var unknown []string
	for _, field := range opts.ColumnMap {
		if _, ok := schema.Find(fields, field); !ok {
			unknown = append(unknown, field)
		}
	}
	if opts.PreserveDates {
		for _, field := range []string{opts.CreatedField, opts.ModifiedField} {
			if _, ok := schema.Find(fields, field); !ok {
				unknown = append(unknown, field)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("list %s has no field named %s", opts.List, strings.Join(unknown, ", "))
	}

	titleField := opts.TitleField
	if titleField != "" {
		if _, ok := schema.Find(fields, titleField); !ok {
			logger.Debug("Title fallback disabled, list has no such field", "field", titleField)
			titleField = ""
		}
	}

	im := &Importer{
		opts:   opts,
		cls:    schema.Classify(fields),
		logger: logger,
		state:  Idle,
	}
	if opts.Backoff.OnRetry == nil {
		opts.Backoff.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("Destination is throttling requests, backing off",
				"attempt", attempt, "wait", delay.String(), "error", err)
		}
	}
	im.submitter = NewSubmitter(session, SubmitOptions{
		List:          opts.List,
		PreserveDates: opts.PreserveDates,
		CreatedField:  opts.CreatedField,
		ModifiedField: opts.ModifiedField,
		Location:      opts.Location,
		TitleField:    titleField,
		TitlePrefix:   opts.TitlePrefix,
		Backoff:       opts.Backoff,
		Now:           opts.Now,
	})
	return im, nil
}

// State returns the current stage of the run
func (im *Importer) State() State {
	return im.state
}

func (im *Importer) setState(s State) {
	im.logger.Debug("Import state changed", "from", im.state.String(), "to", s.String())
	im.state = s
}

// Run imports every row from src. Batches are submitted strictly in order.
// The returned Result is valid even when an error aborts the run.
func (im *Importer) Run(ctx context.Context, src Source[mapper.Row]) (Result, error) {
	start := im.opts.Now()
	var res Result

	im.setState(Reading)
	if im.opts.Limit > 0 {
		im.setState(Truncating)
		im.logger.Info("Test run: limiting import", "rows", im.opts.Limit)
		src = Limit(src, im.opts.Limit)
	}

	batcher, err := NewBatcher(src, im.opts.BatchSize)
	if err != nil {
		return res, im.abort(&res, start, err)
	}

	pool := pond.NewResultPool[mapped](im.opts.Workers)
	defer pool.StopAndWait()

	im.setState(Importing)
	for number := 1; ; number++ {
		rows, err := batcher.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, im.abort(&res, start, fmt.Errorf("failed to read source rows: %w", err))
		}

		if number > 1 && im.opts.Throttle.ShouldRest(number-1) {
			im.logger.Info("Pausing to stay under the destination's rate limit",
				"after_batch", number-1, "pause", im.opts.Throttle.Pause.String())
			if err := im.opts.Throttle.Rest(ctx); err != nil {
				return res, im.abort(&res, start, err)
			}
		}

		records, err := im.mapBatch(pool, rows, &res)
		if err != nil {
			return res, im.abort(&res, start, err)
		}
		res.RowsRead += int64(len(rows))
		res.Batches = number

		if im.opts.ValidateOnly {
			im.logger.Info("Validated batch", "batch", number, "rows", len(rows), "total", res.RowsRead)
			continue
		}

		br := im.submitter.Submit(ctx, number, records)
		im.logBatch(br, res.RowsRead)
		if err := ctx.Err(); err != nil {
			return res, im.abort(&res, start, err)
		}
	}

	im.collect(&res, start)
	im.setState(Done)
	im.logSummary(res)
	return res, nil
}

// mapBatch maps a batch of rows on the worker pool, keeping source order
func (im *Importer) mapBatch(pool pond.ResultPool[mapped], rows []mapper.Row, res *Result) ([]mapper.Record, error) {
	opts := mapper.Options{PreserveDates: im.opts.PreserveDates, TrimChoices: im.opts.TrimChoices}

	group := pool.NewGroup()
	for _, row := range rows {
		row := row
		group.Submit(func() mapped {
			rec, warnings := mapper.Map(row, im.opts.ColumnMap, im.cls, opts)
			return mapped{record: rec, warnings: warnings}
		})
	}
	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to map rows: %w", err)
	}

	records := make([]mapper.Record, len(results))
	for i, m := range results {
		for _, w := range m.warnings {
			im.logger.Warn("Invalid choice value, field skipped", "row", w.Row, "field", w.Field, "value", w.Value)
		}
		res.Warnings += int64(len(m.warnings))
		records[i] = m.record
	}
	return records, nil
}

func (im *Importer) logBatch(br BatchResult, rowsRead int64) {
	if br.Lost() {
		im.logger.Error("Batch lost, continuing with next batch",
			"batch", br.Number, "records", br.Size, "attempts", br.Attempts, "error", br.Err)
		return
	}
	for _, f := range br.Failures {
		im.logger.Error("Item not created", "batch", br.Number, "row", f.Row, "error", f.Err)
	}
	if br.TimestampErr != nil {
		im.logger.Error("Created items kept, timestamps not preserved", "batch", br.Number, "error", br.TimestampErr)
	}
	progress := im.submitter.GetProgress()
	logging.Success(im.logger, fmt.Sprintf("Batch %d: created %d of %d items", br.Number, br.Created, br.Size),
		"total_created", progress.ItemsCreated.Load(), "rows", rowsRead)
}

func (im *Importer) collect(res *Result, start time.Time) {
	progress := im.submitter.GetProgress()
	res.ItemsCreated = progress.ItemsCreated.Load()
	res.ItemsFailed = progress.ItemsFailed.Load()
	res.BatchesLost = progress.BatchesLost.Load()
	res.RecordsLost = progress.RecordsLost.Load()
	res.TimestampsApplied = progress.TimestampsApplied.Load()
	res.TimestampFailures = progress.TimestampFailures.Load()
	res.Elapsed = im.opts.Now().Sub(start)
}

func (im *Importer) abort(res *Result, start time.Time, err error) error {
	im.collect(res, start)
	im.setState(Aborted)
	im.logger.Error("Import aborted", "error", err)
	im.logSummary(*res)
	return err
}

func (im *Importer) logSummary(res Result) {
	elapsed := logging.FormatElapsed(res.Elapsed)
	if im.opts.ValidateOnly {
		logging.Success(im.logger, fmt.Sprintf("Validation finished: %d rows checked in %s", res.RowsRead, elapsed),
			"warnings", res.Warnings)
		return
	}

	args := []any{"rows", res.RowsRead, "warnings", res.Warnings}
	if res.ItemsFailed > 0 {
		args = append(args, "items_failed", res.ItemsFailed)
	}
	if res.BatchesLost > 0 {
		args = append(args, "batches_lost", res.BatchesLost, "records_lost", res.RecordsLost)
	}
	if im.opts.PreserveDates {
		args = append(args, "timestamps_applied", res.TimestampsApplied)
	}
	if secs := res.Elapsed.Seconds(); secs >= 1 {
		args = append(args, "rows_per_sec", fmt.Sprintf("%.1f", float64(res.RowsRead)/secs))
	}
	msg := fmt.Sprintf("Import finished: %d items created in %s", res.ItemsCreated, elapsed)
	if im.state == Aborted || res.BatchesLost > 0 {
		im.logger.Warn(msg, args...)
		return
	}
	logging.Success(im.logger, msg, args...)
}

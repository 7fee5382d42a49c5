package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/andys/listimport/config"
	"github.com/andys/listimport/db"
	"github.com/andys/listimport/rest"
	"github.com/andys/listimport/store"
	"github.com/andys/listimport/worker"
)

// loadColumnMap merges the column map file and the --map flags into cfg
func loadColumnMap(cfg *config.Config) error {
	if cfg.ColumnMapFile != "" {
		if err := config.LoadColumnMap(cfg, cfg.ColumnMapFile); err != nil {
			return fmt.Errorf("failed to load column map: %w", err)
		}
	}
	if err := config.ParseMappings(cfg, cfg.Mappings); err != nil {
		return fmt.Errorf("failed to parse column mappings: %w", err)
	}
	return nil
}

// openSession connects to the site named by cfg.SiteURL. Database URLs use
// the SQL backend; http(s) URLs use the site's REST API.
func openSession(ctx context.Context, cfg *config.Config) (store.Session, error) {
	u, err := url.Parse(cfg.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid site URL: %w", err)
	}
	creds := store.Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret}

	switch u.Scheme {
	case "mysql", "postgres", "postgresql":
		conn, err := db.Connect(ctx, cfg.SiteURL, creds, cfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "http", "https":
		session, err := rest.Connect(ctx, cfg.SiteURL, creds, rest.Options{
			CreatedField:  cfg.CreatedField,
			ModifiedField: cfg.ModifiedField,
			Verbose:       cfg.Verbose,
		})
		if err != nil {
			return nil, err
		}
		return session, nil
	default:
		return nil, fmt.Errorf("unsupported site URL scheme: %q", u.Scheme)
	}
}

func runImport(ctx context.Context, cfg *config.Config) error {
	if err := loadColumnMap(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("failed to load timezone: %w", err)
	}

	logger := slog.Default().With("run", uuid.NewString()[:8])

	// Open the source first so a missing file fails before any remote call
	reader, err := worker.OpenCSV(cfg.SourceFile, worker.CSVOptions{
		Encoding:  cfg.Encoding,
		Delimiter: []rune(cfg.Delimiter)[0],
	})
	if err != nil {
		return err
	}
	defer reader.Close()
	logger.Debug("Source columns", "columns", fmt.Sprint(reader.Columns()))

	session, err := openSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.SiteURL, err)
	}
	defer session.Close()
	logger.Info("Connected", "site", cfg.SiteURL, "list", cfg.ListName)

	fields, err := session.ListFields(ctx, cfg.ListName)
	if err != nil {
		return fmt.Errorf("failed to read list schema: %w", err)
	}

	opts := worker.Options{
		List:          cfg.ListName,
		ColumnMap:     cfg.ColumnMap,
		BatchSize:     cfg.BatchSize,
		ValidateOnly:  cfg.ValidateOnly,
		PreserveDates: cfg.PreserveDates,
		TrimChoices:   cfg.TrimChoices,
		CreatedField:  cfg.CreatedField,
		ModifiedField: cfg.ModifiedField,
		Location:      loc,
		TitleField:    cfg.TitleField,
		TitlePrefix:   cfg.TitlePrefix,
		Throttle: worker.Throttle{
			Every: cfg.SleepEvery,
			Pause: time.Duration(cfg.SleepSeconds) * time.Second,
		},
		Backoff: worker.Backoff{
			Retries: cfg.Retries,
			Initial: cfg.Backoff,
			Max:     cfg.BackoffMax,
		},
		Workers: cfg.Workers,
	}
	if cfg.TestRun {
		opts.Limit = cfg.TestRows
	}

	importer, err := worker.NewImporter(session, fields, opts, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting import", "file", cfg.SourceFile, "list", cfg.ListName,
		"batch_size", cfg.BatchSize, "preserve_dates", cfg.PreserveDates)
	if _, err := importer.Run(ctx, reader); err != nil {
		return fmt.Errorf("import aborted: %w", err)
	}
	return nil
}

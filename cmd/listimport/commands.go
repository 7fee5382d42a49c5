package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andys/listimport/config"
	"github.com/andys/listimport/logging"
	"github.com/andys/listimport/sample"
	"github.com/andys/listimport/schema"
)

func fieldsCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "Print the fields of the destination list and how values are matched",
		Action: func(c *cli.Context) error {
			if cfg.SiteURL == "" || cfg.ListName == "" {
				return fmt.Errorf("--site and --list are required")
			}

			session, err := openSession(c.Context, cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", cfg.SiteURL, err)
			}
			defer session.Close()

			fields, err := session.ListFields(c.Context, cfg.ListName)
			if err != nil {
				return fmt.Errorf("failed to read list schema: %w", err)
			}
			printFields(c.App.Writer, cfg.ListName, fields)
			return nil
		},
	}
}

func printFields(w io.Writer, list string, fields []schema.Field) {
	cls := schema.Classify(fields)
	fmt.Fprintf(w, "List %s: %d fields (%d choice, %d multi-choice)\n",
		list, len(fields), len(cls.Choice), len(cls.MultiChoice))
	for _, f := range fields {
		fmt.Fprintf(w, "  %s\n", f.Describe())
	}
}

func sampleCommand(cfg *config.Config) *cli.Command {
	var sopts sample.Options
	var output string
	var seed int64

	return &cli.Command{
		Name:  "sample",
		Usage: "Write a CSV file of fake rows shaped like the destination list",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "rows",
				Usage:       "Number of rows to generate",
				Value:       100,
				Destination: &sopts.Rows,
			},
			&cli.Float64Flag{
				Name:        "invalid-rate",
				Usage:       "Fraction of choice cells given a value outside the allowed set",
				Destination: &sopts.InvalidRate,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "Random seed, for reproducible files",
				Value:       1,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "Output file (default stdout)",
				Destination: &output,
			},
		},
		Action: func(c *cli.Context) error {
			if cfg.SiteURL == "" || cfg.ListName == "" {
				return fmt.Errorf("--site and --list are required")
			}
			if err := loadColumnMap(cfg); err != nil {
				return err
			}

			session, err := openSession(c.Context, cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", cfg.SiteURL, err)
			}
			defer session.Close()

			fields, err := session.ListFields(c.Context, cfg.ListName)
			if err != nil {
				return fmt.Errorf("failed to read list schema: %w", err)
			}

			sopts.Fields = fields
			sopts.ColumnMap = cfg.ColumnMap
			sopts.Seed = uint64(seed)
			sopts.Dates = cfg.PreserveDates
			if d := []rune(cfg.Delimiter); len(d) == 1 {
				sopts.Delimiter = d[0]
			}

			var w io.Writer = c.App.Writer
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				w = file
			}

			stats, err := sample.Generate(w, sopts)
			if err != nil {
				return fmt.Errorf("failed to generate sample: %w", err)
			}
			if output != "" {
				logging.Success(slog.Default(), fmt.Sprintf("Wrote %d rows to %s", stats.Rows, output),
					"invalid_cells", stats.InvalidCells)
			}
			return nil
		},
	}
}

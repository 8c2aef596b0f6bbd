// Package seed imports species from a YAML file.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/logger"
)

// File is the layout of a seed file.
type File struct {
	Species []Entry `yaml:"species"`
}

// Entry is one species in a seed file.
type Entry struct {
	ScientificName     string   `yaml:"scientific_name"`
	EnglishName        string   `yaml:"english_name"`
	SpanishName        string   `yaml:"spanish_name"`
	Order              string   `yaml:"order"`
	Family             string   `yaml:"family"`
	Habitats           []string `yaml:"habitats"`
	SizeCategory       string   `yaml:"size_category"`
	PrimaryColors      []string `yaml:"primary_colors"`
	ConservationStatus string   `yaml:"conservation_status"`
	DescriptionSpanish string   `yaml:"description_spanish"`
	DescriptionEnglish string   `yaml:"description_english"`
}

// Upserter stores species, reporting whether each was newly inserted.
type Upserter interface {
	UpsertSpecies(ctx context.Context, sp *datastore.Species) (bool, error)
}

// Summary counts the outcome of an import.
type Summary struct {
	Inserted int
	Updated  int
	Elapsed  time.Duration
}

// Command creates the seed command.
func Command(settings *conf.Settings) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "seed [species.yaml]",
		Short: "Import species from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := settings.RequireDatabase(); err != nil {
				return err
			}
			species, err := LoadFile(args[0])
			if err != nil {
				return err
			}

			ds, err := datastore.Open(cmd.Context(), &settings.Database)
			if err != nil {
				return err
			}
			defer func() { _ = ds.Close() }()

			var progress io.Writer
			if !quiet {
				progress = cmd.ErrOrStderr()
			}
			summary, err := Import(cmd.Context(), ds, species, progress)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s species (%s new, %s updated) in %s\n",
				humanize.Comma(int64(summary.Inserted+summary.Updated)),
				humanize.Comma(int64(summary.Inserted)),
				humanize.Comma(int64(summary.Updated)),
				summary.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

// LoadFile reads and validates a seed file.
func LoadFile(path string) ([]datastore.Species, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, errors.New(err).
			Component("seed").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes seed YAML into species. Every entry needs a scientific name,
// and scientific names must be unique within the file.
func Parse(r io.Reader) ([]datastore.Species, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, invalid("seed file is empty")
		}
		return nil, errors.New(err).
			Component("seed").
			Category(errors.CategoryValidation).
			Build()
	}

	seen := make(map[string]int, len(file.Species))
	out := make([]datastore.Species, 0, len(file.Species))
	for i := range file.Species {
		e := &file.Species[i]
		name := strings.TrimSpace(e.ScientificName)
		if name == "" {
			return nil, invalid("species %d: scientific_name is required", i+1)
		}
		if prev, ok := seen[strings.ToLower(name)]; ok {
			return nil, invalid("species %d: %q duplicates species %d", i+1, name, prev)
		}
		seen[strings.ToLower(name)] = i + 1

		switch e.SizeCategory {
		case "", "small", "medium", "large":
		default:
			return nil, invalid("species %d: size_category must be small, medium or large", i+1)
		}

		out = append(out, datastore.Species{
			ScientificName:     name,
			EnglishName:        strings.TrimSpace(e.EnglishName),
			SpanishName:        strings.TrimSpace(e.SpanishName),
			OrderName:          strings.TrimSpace(e.Order),
			FamilyName:         strings.TrimSpace(e.Family),
			Habitats:           e.Habitats,
			SizeCategory:       e.SizeCategory,
			PrimaryColors:      e.PrimaryColors,
			ConservationStatus: e.ConservationStatus,
			DescriptionSpanish: e.DescriptionSpanish,
			DescriptionEnglish: e.DescriptionEnglish,
		})
	}
	if len(out) == 0 {
		return nil, invalid("seed file contains no species")
	}
	return out, nil
}

// Import upserts every species in order. progress may be nil.
func Import(ctx context.Context, store Upserter, species []datastore.Species, progress io.Writer) (Summary, error) {
	log := logger.Global().Module("seed")
	start := time.Now()

	var bar *pb.ProgressBar
	if progress != nil {
		bar = pb.Full.New(len(species))
		bar.SetWriter(progress)
		bar.Set("prefix", "species ")
		bar.Set(pb.CleanOnFinish, true)
		bar.Start()
		defer bar.Finish()
	}

	var s Summary
	for i := range species {
		sp := &species[i]
		inserted, err := store.UpsertSpecies(ctx, sp)
		if err != nil {
			return s, fmt.Errorf("seed %s: %w", sp.ScientificName, err)
		}
		if inserted {
			s.Inserted++
		} else {
			s.Updated++
		}
		log.Debug("species seeded",
			logger.String("scientific_name", sp.ScientificName),
			logger.Bool("inserted", inserted))
		if bar != nil {
			bar.Increment()
		}
	}
	s.Elapsed = time.Since(start)

	log.Info("seed complete",
		logger.Int("inserted", s.Inserted),
		logger.Int("updated", s.Updated),
		logger.Duration("elapsed", s.Elapsed))
	return s, nil
}

func invalid(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("seed").
		Category(errors.CategoryValidation).
		Build()
}

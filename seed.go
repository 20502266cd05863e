package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"echomind/config"
	"echomind/models"
	"echomind/store"
)

type faqSeedFile struct {
	FAQs []struct {
		Question string   `yaml:"question"`
		Answer   string   `yaml:"answer"`
		Tags     []string `yaml:"tags"`
		Category string   `yaml:"category"`
	} `yaml:"faqs"`
}

func newSeedFAQsCmd() *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "seed-faqs",
		Short: "Replace the FAQ collection with the seed data",
		Long:  "Clears the faqs table and inserts the entries from the seed file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			faqs, err := loadFAQSeed(seedPath)
			if err != nil {
				return err
			}

			if cfg.DatabaseURL == "" {
				return errors.New("database_url is required (config or DATABASE_URL)")
			}
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return errors.Wrap(err, "failed to connect to database")
			}
			defer db.Close()

			if err := store.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			if err := store.NewFAQStore(db).Replace(cmd.Context(), faqs); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d FAQ entries\n", len(faqs))
			return nil
		},
	}

	cmd.Flags().StringVar(&seedPath, "seed-file", "faqs.yaml", "path to the FAQ seed file")
	return cmd
}

func loadFAQSeed(path string) ([]models.FAQ, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read seed file %s", path)
	}

	var file faqSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse seed file")
	}
	if len(file.FAQs) == 0 {
		return nil, errors.New("seed file contains no FAQ entries")
	}

	faqs := make([]models.FAQ, 0, len(file.FAQs))
	for _, f := range file.FAQs {
		faqs = append(faqs, models.FAQ{
			Question: f.Question,
			Answer:   f.Answer,
			Tags:     f.Tags,
			Category: f.Category,
		})
	}
	return faqs, nil
}

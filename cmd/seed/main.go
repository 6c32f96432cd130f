package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dosimetry-platform/internal/config"
	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/internal/services"
	"dosimetry-platform/pkg/database"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

func main() {
	// Parse command-line flags
	dataDir := flag.String("data-dir", "./seed_data", "Directory containing seed dataset CSV files")
	activate := flag.Bool("activate", true, "Activate seeded versions for types with no active version")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("dosimetry-seed", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[SEED_START] Starting reference data seeding", logging.Fields{
		"version":  "1.0.0",
		"data_dir": *dataDir,
		"activate": *activate,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("dosimetry_seed")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[SEED_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository and services
	refRepo := repository.NewReferenceRepository(db, logger, metricsCollector)
	datasetService := services.NewDatasetService(refRepo, logger, metricsCollector)
	formulaService := services.NewFormulaService(refRepo, logger, metricsCollector)

	seeded := 0
	skipped := 0

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("SEEDING REFERENCE DATASETS")
	fmt.Println(strings.Repeat("=", 80))

	for _, datasetType := range models.AllDatasetTypes {
		filter := repository.DatasetVersionFilter{DatasetType: &datasetType, Limit: 1}
		_, total, err := datasetService.List(ctx, filter)
		if err != nil {
			logger.Fatal(ctx, "[SEED_ERROR] Failed to inspect existing versions", logging.Fields{
				"dataset_type": datasetType,
			}, err)
		}

		if total > 0 {
			fmt.Printf("%-20s skipped (%d version(s) already present)\n", datasetType, total)
			skipped++
			continue
		}

		header, records, source, err := loadSeed(*dataDir, datasetType)
		if err != nil {
			logger.Fatal(ctx, "[SEED_ERROR] Failed to load seed data", logging.Fields{
				"dataset_type": datasetType,
			}, err)
		}

		version, err := datasetService.CreateVersion(ctx, datasetType, header, records, "seed import", "seed")
		if err != nil {
			logger.Fatal(ctx, "[SEED_ERROR] Failed to create dataset version", logging.Fields{
				"dataset_type": datasetType,
				"source":       source,
			}, err)
		}

		if *activate {
			if _, err := datasetService.Activate(ctx, version.ID); err != nil {
				logger.Fatal(ctx, "[SEED_ERROR] Failed to activate dataset version", logging.Fields{
					"dataset_type": datasetType,
					"version":      version.Version,
				}, err)
			}
		}

		fmt.Printf("%-20s v%d seeded from %s (%d rows)\n", datasetType, version.Version, source, version.RowCount)
		seeded++
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("SEEDING DOSE FORMULA")
	fmt.Println(strings.Repeat("=", 80))

	_, formulaTotal, err := formulaService.List(ctx, 1, 0)
	if err != nil {
		logger.Fatal(ctx, "[SEED_ERROR] Failed to inspect existing formulas", logging.Fields{}, err)
	}

	if formulaTotal > 0 {
		fmt.Printf("formula              skipped (%d version(s) already present)\n", formulaTotal)
	} else {
		formula, err := formulaService.Create(ctx, models.DefaultFormulaExpression, models.DefaultFormulaVariables, "default dose formula", "seed")
		if err != nil {
			logger.Fatal(ctx, "[SEED_ERROR] Failed to create default formula", logging.Fields{}, err)
		}

		if *activate {
			if _, err := formulaService.Activate(ctx, formula.ID); err != nil {
				logger.Fatal(ctx, "[SEED_ERROR] Failed to activate default formula", logging.Fields{}, err)
			}
		}

		fmt.Printf("formula              v%d seeded: %s\n", formula.Version, formula.Expression)
	}

	logger.Info(ctx, "[SEED_COMPLETE] Reference data seeding completed", logging.Fields{
		"datasets_seeded":  seeded,
		"datasets_skipped": skipped,
	})
}

// loadSeed reads <data-dir>/<dataset_type>.csv when present and falls back
// to the built-in seed rows otherwise.
func loadSeed(dataDir string, t models.DatasetType) (header []string, records [][]string, source string, err error) {
	path := filepath.Join(dataDir, string(t)+".csv")

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, "", fmt.Errorf("failed to open %s: %w", path, err)
		}
		header, records = builtinSeed(t)
		return header, records, "builtin", nil
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, "", fmt.Errorf("%s is empty", path)
	}

	return rows[0], rows[1:], path, nil
}

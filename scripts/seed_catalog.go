package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"studyroom/internal/database"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "./data/studyroom.db", "path to sqlite db")
		dryRun      = flag.Bool("dry-run", false, "validate the catalog without writing")
	)
	flag.Parse()

	data, err := os.ReadFile(*catalogPath)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var catalog models.Catalog
	if err = yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	if len(catalog.Seats) == 0 {
		return fmt.Errorf("no seats in yaml")
	}
	if err = catalog.Validate(); err != nil {
		return err
	}
	if *dryRun {
		fmt.Printf("ok: buildings=%d classrooms=%d seats=%d users=%d\n",
			len(catalog.Buildings), len(catalog.Classrooms), len(catalog.Seats), len(catalog.Users))
		return nil
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err = db.SeedCatalog(ctx, &catalog); err != nil {
		return err
	}

	fmt.Printf("done: buildings=%d classrooms=%d seats=%d users=%d blacklisted=%d\n",
		len(catalog.Buildings), len(catalog.Classrooms), len(catalog.Seats), len(catalog.Users), len(catalog.Blacklist))
	return nil
}

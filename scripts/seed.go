// Seed script for loading demo canon into the configured durable store.
// Run with: go run ./scripts/seed.go [facts.yaml]
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/Harshitk-cp/canonkeeper/internal/api"
	"github.com/Harshitk-cp/canonkeeper/internal/config"
	"github.com/Harshitk-cp/canonkeeper/internal/service"
	"github.com/Harshitk-cp/canonkeeper/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type seedFact struct {
	Content       string `yaml:"content"`
	Category      string `yaml:"category"`
	EstablishedIn string `yaml:"established_in"`
	Version       string `yaml:"version"`
	// RetconOf names the Content of an earlier seed fact this one replaces.
	RetconOf string `yaml:"retcon_of"`
}

var defaultSeed = []seedFact{
	{Content: "Sarah Vance has blue eyes", Category: "characters", EstablishedIn: "chapter-1"},
	{Content: "Marcus is left-handed and never carries a sword", Category: "characters", EstablishedIn: "chapter-2"},
	{Content: "The Gilded Stag inn has three floors", Category: "locations", EstablishedIn: "chapter-1"},
	{Content: "Magic costs the caster a memory", Category: "lore", EstablishedIn: "prologue"},
	{Content: "The siege of Harrowgate lasted forty days", Category: "timeline", EstablishedIn: "chapter-4"},
	{Content: "Sarah and Marcus are estranged siblings", Category: "relationships", EstablishedIn: "chapter-3"},
	{Content: "The brass compass always points to home", Category: "items", EstablishedIn: "chapter-2"},
	{Content: "The siege of Harrowgate lasted ninety days", Category: "timeline", EstablishedIn: "revision-2", RetconOf: "The siege of Harrowgate lasted forty days"},
	{Content: "Magic is free for those born under a red moon", Category: "lore", Version: "red-moon"},
}

func loadSeed(path string) ([]seedFact, error) {
	if path == "" {
		return defaultSeed, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var facts []seedFact
	if err := yaml.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return facts, nil
}

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var path string
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	facts, err := loadSeed(path)
	if err != nil {
		log.Fatalf("Failed to read seed file: %v", err)
	}

	ctx := context.Background()
	opts := api.OptionsFromConfig()

	switch config.StorageDriver() {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, config.DatabaseURL())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		if _, err := store.Migrate(ctx, pool, config.MigrationsPath()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		opts.Pool = pool
	case config.StorageBadger:
		db, err := store.OpenBadger(store.BadgerConfig{Path: config.BadgerPath(), SyncWrites: true})
		if err != nil {
			log.Fatalf("Failed to open badger store: %v", err)
		}
		defer db.Close()
		opts.Badger = db
	default:
		log.Fatalf("Seeding needs a durable store; set STORAGE_DRIVER to postgres or badger")
	}

	app := api.NewApp(opts, zap.NewNop())
	if _, err := app.Load(ctx); err != nil {
		log.Fatalf("Failed to load existing canon: %v", err)
	}
	retcons := service.NewRetconService(app.Canon, zap.NewNop())

	ids := make(map[string]string)
	for _, f := range facts {
		if f.RetconOf != "" {
			oldID, ok := ids[f.RetconOf]
			if !ok {
				log.Fatalf("retcon_of %q does not match an earlier seed fact", f.RetconOf)
			}
			e, err := retcons.Retcon(ctx, oldID, f.Content, f.EstablishedIn)
			if err != nil {
				log.Fatalf("Failed to retcon %q: %v", f.RetconOf, err)
			}
			ids[f.Content] = e.FactID
			fmt.Printf("Retconned %s -> %s: %s\n", oldID, e.FactID, e.Content)
			continue
		}

		e, err := app.Canon.Add(ctx, service.AddFactInput{
			Content:       f.Content,
			Category:      f.Category,
			EstablishedIn: f.EstablishedIn,
			Version:       f.Version,
		})
		if err != nil {
			log.Fatalf("Failed to add %q: %v", f.Content, err)
		}
		ids[f.Content] = e.FactID
		fmt.Printf("Added %s [%s/%s]: %s\n", e.FactID, e.Category, e.Version, e.Content)
	}

	fmt.Printf("\nSeeded %d facts\n", len(facts))
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/hepatica-risk-engine/internal/config"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/internal/logging"
	"github.com/hepatica-risk-engine/internal/registry"
	"github.com/hepatica-risk-engine/internal/repository"
	"github.com/hepatica-risk-engine/internal/service"
)

func main() {
	stage := flag.String("stage", "", "Only check one stage (stage1, stage2 or stage3)")
	flag.Parse()

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := configManager.GetConfig()
	logger := logging.New(cfg.Logging)
	ctx := context.Background()

	// Artifact locations come from the model registry
	store, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	health, err := service.ArtifactHealth(ctx, registry.NewResolver(logger), cfg, store)
	if err != nil {
		log.Fatalf("Failed to resolve model registry: %v", err)
	}
	if *stage != "" {
		h, ok := health[*stage]
		if !ok {
			log.Fatalf("unknown stage %q", *stage)
		}
		health = map[string]domain.ArtifactHealth{*stage: h}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(health); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	stages := make([]string, 0, len(health))
	for name := range health {
		stages = append(stages, name)
	}
	sort.Strings(stages)

	failed := false
	for _, name := range stages {
		h := health[name]
		if h.StrictMode && !h.OK {
			fmt.Fprintf(os.Stderr, "%s: %d artifact problem(s)\n", name, len(h.Errors))
			failed = true
		}
	}
	if failed {
		store.Close()
		os.Exit(1)
	}
}

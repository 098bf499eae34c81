package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/kea/internal/config"
	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/eventlog"
	"github.com/ChamsBouzaiene/kea/internal/providers"
)

// runtimeEnv bundles the shared infrastructure every agent in this
// process uses: config, event store, search index, policy watcher and
// the provider client.
type runtimeEnv struct {
	WorkDir  string
	Store    *eventlog.Store
	Searcher *eventlog.Searcher
	Policy   *config.PolicyWatcher
	LLM      engine.LLMClient
	Model    string
	manager  *config.Manager
}

func (r *runtimeEnv) Close() {
	if r.Policy != nil {
		if err := r.Policy.Stop(); err != nil {
			log.Printf("failed to stop policy watcher: %v", err)
		}
	}
	if r.Searcher != nil {
		if err := r.Searcher.Close(); err != nil {
			log.Printf("failed to close search index: %v", err)
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			log.Printf("failed to close event store: %v", err)
		}
	}
}

func prepareRuntimeEnv(ctx context.Context, workFlag string) (*runtimeEnv, error) {
	manager, err := config.NewManager()
	if err != nil {
		return nil, err
	}
	cfg, err := manager.Load()
	if err != nil {
		return nil, err
	}

	workDir := workFlag
	if workDir == "" {
		workDir = cfg.WorkDir
	}
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	if info, err := os.Stat(absWorkDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("working directory is not valid: %s", absWorkDir)
	}
	log.Printf("working directory: %s", absWorkDir)

	if err := os.MkdirAll(manager.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	store, err := eventlog.Open(ctx, manager.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	searcher, err := eventlog.NewSearcher(manager.DBPath())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}

	policy, err := config.NewPolicyWatcher(manager.PolicyPath())
	if err != nil {
		searcher.Close()
		store.Close()
		return nil, fmt.Errorf("failed to load approval policy: %w", err)
	}

	llm, model, err := providers.NewLLMClient(cfg.LLMProvider, cfg.APIKey, cfg.Model, cfg.BaseURL)
	if err != nil {
		policy.Stop()
		searcher.Close()
		store.Close()
		return nil, err
	}
	log.Printf("provider ready (model: %s)", model)

	return &runtimeEnv{
		WorkDir:  absWorkDir,
		Store:    store,
		Searcher: searcher,
		Policy:   policy,
		LLM:      llm,
		Model:    model,
		manager:  manager,
	}, nil
}

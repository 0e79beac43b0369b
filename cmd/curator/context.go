package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"curator/internal/agents"
	"curator/internal/agents/llm"
	"curator/internal/blob"
	"curator/internal/config"
	"curator/internal/joblock"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/status"
	"curator/internal/step"
	"curator/internal/transition"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// env bundles the shared collaborators commands operate on. The store is
// opened per command invocation and closed when the command returns.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	reg    *status.Registry
	engine *transition.Engine
}

func (c *commandContext) withEnv(cmd *cobra.Command, fn func(context.Context, *env) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	reg, err := status.Load(ctx, store)
	if err != nil {
		return err
	}

	return fn(ctx, &env{
		cfg:    cfg,
		logger: logger,
		store:  store,
		reg:    reg,
		engine: transition.New(store, reg, logger),
	})
}

// withJobLock wraps fn in the batch-job lock so pipeline and GC passes
// never overlap.
func withJobLock(e *env, fn func() error) error {
	lock, err := joblock.New(e.cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		_ = lock.Release()
	}()
	return fn()
}

func (e *env) blobStore() (*blob.DiskStore, error) {
	return blob.NewDiskStore(e.cfg.Paths.BlobDir)
}

func (e *env) llmClient() *llm.Client {
	return llm.NewClient(e.cfg.LLM)
}

// stepRegistry wires the production agents for every pipeline step.
func (e *env) stepRegistry() (*step.Registry, error) {
	blobs, err := e.blobStore()
	if err != nil {
		return nil, err
	}
	client := e.llmClient()

	steps := step.NewRegistry()
	steps.Register(step.Fetch, agents.NewFetcher(http.DefaultClient, blobs))
	steps.Register(step.Filter, agents.NewFilter(client))
	steps.Register(step.Summarize, agents.NewSummarizer(client))
	steps.Register(step.Tag, agents.NewTagger(client))
	steps.Register(step.Thumbnail, agents.NewThumbnailer(blobs))
	return steps, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

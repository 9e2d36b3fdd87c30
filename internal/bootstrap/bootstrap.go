// Package bootstrap wires the configuration, store, session facade, provider and turn runner
// into one application graph shared by the REPL, the TUI and the admin commands.
package bootstrap

import (
	"context"
	"fmt"

	"chatkeep/internal/binding"
	"chatkeep/internal/config"
	"chatkeep/internal/contextmgr"
	"chatkeep/internal/conversation"
	"chatkeep/internal/logging"
	"chatkeep/internal/provider"
	"chatkeep/internal/session"
	"chatkeep/internal/storage"
	"chatkeep/internal/tools"
	"chatkeep/internal/turn"

	"go.uber.org/zap"
)

// App 与 UI 无关的构建结果；调用方负责 defer app.Close()
// App is the UI-agnostic build result; callers must defer app.Close()
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        *storage.SQLiteStore
	Flags        *storage.FileFlagStore
	Sessions     *binding.Facade
	Provider     *provider.OpenAIProvider
	Tools        *tools.Registry
	Runner       *turn.Runner
	Conversation *conversation.Controller
}

type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger 使用给定 logger，而不是按配置打开日志文件
// WithLogger uses l instead of opening the configured log file
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Build 按依赖顺序初始化并启动会话加载；加载在后台进行，通过 Sessions.Ready() 等待
// Build initializes in dependency order and starts loading sessions in the background; wait on Sessions.Ready()
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		l, err := logging.New(cfg.LogPath(), cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("init logging: %w", err)
		}
		logger = l
	}

	store, err := storage.NewSQLiteStore(cfg.DatabasePath(storage.DatabaseName), logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	flags := storage.NewFileFlagStore(cfg.FlagsDir())

	facade := binding.New(
		binding.NewFactory(store,
			session.WithLogger(logger),
			session.WithDefaultTitle(cfg.Session.DefaultTitle),
		),
		binding.WithLogger(logger),
	)
	facade.Start(ctx)

	providerClient := provider.NewOpenAIProvider(providerConfig(cfg), logger)
	registry := buildToolRegistry(facade)
	runner := turn.NewRunner(providerClient, registry, turn.Options{
		SystemPrompt:      cfg.Runtime.SystemPrompt,
		MaxSteps:          cfg.Runtime.MaxSteps,
		ContextTokenLimit: cfg.Runtime.ContextTokenLimit,
		Tokenizer:         contextmgr.NewTokenizerForModel(cfg.Provider.Model),
		Logger:            logger,
	})

	logger.Info("application built",
		zap.String("model", cfg.Provider.Model),
		zap.String("base_url", cfg.Provider.BaseURL),
		zap.String("db", store.Path()),
		zap.Strings("tools", registry.Names()),
	)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Flags:        flags,
		Sessions:     facade,
		Provider:     providerClient,
		Tools:        registry,
		Runner:       runner,
		Conversation: conversation.NewController(facade, runner, logger),
	}, nil
}

// Close 关闭存储并刷新日志
// Close closes the store and flushes the logger
func (a *App) Close() error {
	err := a.Store.Close()
	_ = a.Logger.Sync()
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

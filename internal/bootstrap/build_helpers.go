package bootstrap

import (
	"time"

	"chatkeep/internal/binding"
	"chatkeep/internal/config"
	"chatkeep/internal/provider"
	"chatkeep/internal/storage"
	"chatkeep/internal/tools"
)

func providerConfig(cfg config.Config) provider.OpenAIConfig {
	return provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	}
}

// buildToolRegistry 内置工具；search_sessions 读取 facade 的最新快照
// buildToolRegistry registers the built-ins; search_sessions reads the facade's latest snapshot
func buildToolRegistry(facade *binding.Facade) *tools.Registry {
	toolList := []tools.Tool{
		tools.NewCurrentTimeTool(time.Now),
		tools.NewSearchSessionsTool(tools.SessionListerFunc(func() []storage.Session {
			return facade.State().Sessions
		})),
	}
	return tools.NewRegistry(toolList...)
}

// Package app assembles a registry and the stock modules from config.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"modnet/internal/config"
	"modnet/internal/dispatch"
	"modnet/internal/groupindex"
	"modnet/internal/handler"
	"modnet/internal/metrics"
	"modnet/internal/modules/chat"
	"modnet/internal/modules/core"
	"modnet/internal/modules/login"
	"modnet/internal/registry"
)

// Modules are the stock modules, kept so callers can bind outbound paths
// and client hooks after the network side exists.
type Modules struct {
	Core  *core.Module
	Chat  *chat.Module
	Login *login.Module
}

func Settings(p config.PerformanceConfig, home string) registry.Settings {
	s := registry.DefaultSettings()
	if p.IndexerMode == "ram" {
		s.IndexerMode = groupindex.ModeRAM
	}
	if p.TableMode == "map" {
		s.TableMode = handler.ModeMap
	}
	if p.RegionSize > 0 {
		s.RegionSize = p.RegionSize
	}
	if home != "" {
		s.HomeModule = home
	}
	return s
}

func Layout(p config.PerformanceConfig) dispatch.Layout {
	return dispatch.Layout{TagBits: p.TagBits, ScopeFlag: true}
}

// NewRegistry builds a registry and adds the stock modules in dependency
// order.
func NewRegistry(logger *zap.Logger, m *metrics.Metrics, p config.PerformanceConfig, home string, loginOpts login.Options) (*registry.Registry, *Modules, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithMetrics(m),
		registry.WithSettings(Settings(p, home)),
	)
	mods := &Modules{
		Core:  core.New(logger),
		Chat:  chat.New(logger),
		Login: login.New(logger, loginOpts),
	}
	for _, mod := range []registry.Module{mods.Core, mods.Login, mods.Chat} {
		if _, err := reg.AddModule(mod); err != nil {
			return nil, nil, fmt.Errorf("build registry: %w", err)
		}
	}
	return reg, mods, nil
}

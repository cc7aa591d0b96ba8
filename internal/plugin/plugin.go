// Package plugin defines the collector/processor plugin contract and the
// static registry that replaces the original system's filesystem-scan +
// reflective-class-name plugin discovery (spec.md §9's design note).
package plugin

import (
	"context"

	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/config"
	"github.com/krystianbajno/breachhunter/internal/processor"
	"github.com/krystianbajno/breachhunter/internal/scrap"
	"github.com/krystianbajno/breachhunter/internal/store/postgres"
)

// Collector is the contract a plugin implements to source scraps.
type Collector interface {
	// Collect returns every new scrap discovered this poll, or nil if
	// there are none. A per-call error is logged by the caller; the
	// driver continues on the next polling interval.
	Collect(ctx context.Context) ([]scrap.Scrap, error)
}

// Processor is the contract a plugin implements to handle scraps it
// recognises, delegating the classification protocol to the shared
// Core Processor.
type Processor interface {
	// CanProcess reports whether this processor applies to sc.
	CanProcess(sc scrap.Scrap) bool
	// Process runs the Core Processor protocol against sc and performs
	// any plugin-local side effect (e.g. moving a local file to a
	// processed directory). It returns the scrap id the Core Processor
	// assigned, for the completion message the processing stage emits.
	Process(ctx context.Context, sc scrap.Scrap) (int64, error)
}

// Dependencies are the concrete collaborators a plugin needs, handed to
// it by the coordinator at construction time instead of a name-keyed
// service container lookup.
type Dependencies struct {
	Config        *config.Config
	Store         *postgres.Store
	CoreProcessor *processor.CoreProcessor
	Logger        *zap.Logger
}

// Provider registers a plugin's collectors and processors. Plugins
// implement Register and Boot in that order, matching
// core/providers/plugin_provider.py's register()/boot() lifecycle.
type Provider interface {
	// Register constructs the plugin's internal services.
	Register(deps Dependencies) error
	// Boot performs any startup side effect and returns the plugin's
	// collectors and processors.
	Boot(ctx context.Context) ([]Collector, []Processor, error)
}

// Factory builds a fresh Provider instance. Registered once per plugin
// package via an init() call into Register below.
type Factory func() Provider

var registry = map[string]Factory{}

// Register adds a plugin factory to the static registry under name
// (the plugin's directory name in the original system, e.g. "local_plugin").
// Call from each plugin package's init().
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Enabled reports whether name has an enable flag set in its config
// section (`<name>.enabled`), replacing the original system's per-plugin
// config.yaml enabled flag.
func Enabled(cfg *config.Config, name string) bool {
	v := cfg.Get(name+".enabled", true)
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

// Load instantiates every registered, enabled plugin, registers and boots
// it, and returns the combined collector/processor lists.
func Load(ctx context.Context, deps Dependencies) ([]Collector, []Processor, error) {
	var collectors []Collector
	var processors []Processor

	for name, factory := range registry {
		if !Enabled(deps.Config, name) {
			deps.Logger.Info("plugin disabled, skipping", zap.String("plugin", name))
			continue
		}

		provider := factory()
		if err := provider.Register(deps); err != nil {
			deps.Logger.Error("plugin failed to register", zap.String("plugin", name), zap.Error(err))
			return nil, nil, err
		}

		pluginCollectors, pluginProcessors, err := provider.Boot(ctx)
		if err != nil {
			deps.Logger.Error("plugin failed to boot", zap.String("plugin", name), zap.Error(err))
			return nil, nil, err
		}

		collectors = append(collectors, pluginCollectors...)
		processors = append(processors, pluginProcessors...)
	}

	return collectors, processors, nil
}

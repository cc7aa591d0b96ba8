package local

import (
	"context"
	"fmt"

	"github.com/krystianbajno/breachhunter/internal/plugin"
)

const pluginName = "local_plugin"

func init() {
	plugin.Register(pluginName, func() plugin.Provider { return &provider{} })
}

// provider implements plugin.Provider for local_plugin, registering a
// Service/Collector/Processor triple from the injected Dependencies.
type provider struct {
	service   *Service
	collector *Collector
	processor *Processor
}

func (p *provider) Register(deps plugin.Dependencies) error {
	directory := deps.Config.Get(pluginName+".watch_directory", "").(string)
	processedDirectory := deps.Config.Get(pluginName+".processed_directory", "").(string)
	if directory == "" || processedDirectory == "" {
		return fmt.Errorf("%s: watch_directory and processed_directory must be configured", pluginName)
	}

	service, err := NewService(directory, processedDirectory, deps.Logger)
	if err != nil {
		return fmt.Errorf("%s: %w", pluginName, err)
	}

	p.service = service
	p.collector = NewCollector(service, deps.Store, deps.Logger)
	p.processor = NewProcessor(service, deps.CoreProcessor, deps.Logger)
	return nil
}

func (p *provider) Boot(ctx context.Context) ([]plugin.Collector, []plugin.Processor, error) {
	return []plugin.Collector{p.collector}, []plugin.Processor{p.processor}, nil
}

package local

import (
	"context"

	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/processor"
	"github.com/krystianbajno/breachhunter/internal/scrap"
)

// Processor handles scraps sourced by the local collector: it delegates
// the classification protocol to the Core Processor, then moves the
// underlying file into the processed directory regardless of the
// protocol's outcome.
type Processor struct {
	service       *Service
	coreProcessor *processor.CoreProcessor
	logger        *zap.Logger
}

// NewProcessor builds the local processor.
func NewProcessor(service *Service, coreProcessor *processor.CoreProcessor, logger *zap.Logger) *Processor {
	return &Processor{service: service, coreProcessor: coreProcessor, logger: logger.Named("local_processor")}
}

// CanProcess reports whether sc originated from the local collector.
func (p *Processor) CanProcess(sc scrap.Scrap) bool {
	return sc.Source == "local"
}

// Process runs the Core Processor protocol then moves sc's file to the
// processed directory, logging (not failing) a move error since the
// scrap's Postgres state is already terminal by that point.
func (p *Processor) Process(ctx context.Context, sc scrap.Scrap) (int64, error) {
	id, _, err := p.coreProcessor.ProcessScrap(ctx, sc)
	if err != nil {
		return id, err
	}

	if moveErr := p.service.MoveFileToProcessed(sc.FilePath); moveErr != nil {
		p.logger.Error("moving processed file failed", zap.String("path", sc.FilePath), zap.Error(moveErr))
	}

	return id, nil
}

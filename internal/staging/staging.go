// Package staging models the upstream file staging contract collectors
// use to hand files to processors. SMB mount management itself is out
// of scope (spec.md §1); this package only carries the contract plus a
// local-filesystem implementation sufficient for a single-host
// deployment with no real upstream share.
package staging

import (
	"context"

	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/scrap"
)

// Local is a passthrough Staging implementation for scraps whose files
// already live on a filesystem visible to both stages (e.g. the local
// collector's watch directory). It performs no network mount and
// returns the scrap's existing path as the mounted view; the UNC view
// is left empty since there is no SMB share behind it.
type Local struct {
	logger *zap.Logger
}

// NewLocal builds the passthrough staging implementation.
func NewLocal(logger *zap.Logger) *Local {
	return &Local{logger: logger.Named("local_staging")}
}

// Stage returns sc.FilePath unchanged as the mounted path.
func (l *Local) Stage(ctx context.Context, sc scrap.Scrap) (mountedPath, uncPath string, err error) {
	return sc.FilePath, "", nil
}

// Package logging builds the process-wide zap logger used by every
// component, matching document-chunker/main.go's zap.NewProduction setup.
package logging

import "go.uber.org/zap"

// New builds a production logger, or a development logger (colored,
// caller-annotated) when debug is true.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Package local implements the local_plugin: a collector that walks a
// watch directory for new files and a processor that moves handled
// files into a processed directory, grounded on
// original_source/plugins/local_plugin.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ScrapeFile is one file discovered under the watch directory.
type ScrapeFile struct {
	FilePath string
	Filename string
}

// Service owns the watch/processed directory pair and the filesystem
// operations the collector and processor delegate to.
type Service struct {
	directory          string
	processedDirectory string
	logger             *zap.Logger
}

// NewService builds the local service, creating the processed directory
// if it does not already exist.
func NewService(directory, processedDirectory string, logger *zap.Logger) (*Service, error) {
	if err := os.MkdirAll(processedDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("creating processed directory %s: %w", processedDirectory, err)
	}
	return &Service{
		directory:          directory,
		processedDirectory: processedDirectory,
		logger:             logger.Named("local_service"),
	}, nil
}

// FetchScrapeFiles walks the watch directory and returns every file
// found. A walk error is logged and yields an empty result rather than
// propagating, matching the original service's best-effort contract.
func (s *Service) FetchScrapeFiles() []ScrapeFile {
	var files []ScrapeFile
	err := filepath.Walk(s.directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, ScrapeFile{FilePath: path, Filename: filepath.Base(path)})
		return nil
	})
	if err != nil {
		s.logger.Error("fetching scrape files failed", zap.Error(err))
		return nil
	}
	return files
}

// MoveFileToProcessed relocates path into the processed directory. A
// missing source file is logged and treated as a no-op.
func (s *Service) MoveFileToProcessed(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.logger.Warn("file does not exist, skipping move", zap.String("path", path))
		return nil
	}

	dest := filepath.Join(s.processedDirectory, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("moving %s to %s: %w", path, dest, err)
	}
	s.logger.Info("moved file to processed directory", zap.String("from", path), zap.String("to", dest))
	return nil
}

func modTime(path string) *time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	t := info.ModTime()
	return &t
}

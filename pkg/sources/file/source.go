package file

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/harunnryd/dgstream/pkg/errorsx"
	"github.com/harunnryd/dgstream/pkg/logging"
	"github.com/harunnryd/dgstream/pkg/sources"
)

// Source streams an audio file from disk.
type Source struct {
	path   string
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Source {
	return &Source{path: path, logger: logging.NewComponentLogger(logger, "file_source")}
}

func (s *Source) Name() string { return "file" }

func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("open audio file: %w", err), errorsx.ReasonSourceOpen)
	}
	if info, err := f.Stat(); err == nil {
		s.logger.Info("file_source_opened", slog.String("path", s.path), slog.Int64("size_bytes", info.Size()))
	}
	return f, nil
}

var _ sources.Source = (*Source)(nil)

package loader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/estensen/pyusd-dashboard/internal/metrics"
	"github.com/estensen/pyusd-dashboard/internal/models"
)

// Loader fetches the raw transaction log from an external tabular source.
type Loader interface {
	Load(ctx context.Context) (models.Dataset, error)
}

// Writer overwrites an external store with the full transformed dataset.
type Writer interface {
	Name() string
	Persist(ctx context.Context, columns []string, transactions []models.Transaction) error
}

// MultiWriter persists to every writer in order and reports all failures.
type MultiWriter struct {
	writers []Writer
	logger  *zap.Logger
}

func NewMultiWriter(logger *zap.Logger, writers ...Writer) *MultiWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiWriter{writers: writers, logger: logger}
}

func (m *MultiWriter) Name() string {
	return "multi"
}

func (m *MultiWriter) Len() int {
	return len(m.writers)
}

func (m *MultiWriter) Persist(ctx context.Context, columns []string, transactions []models.Transaction) error {
	if len(m.writers) == 0 {
		return fmt.Errorf("%w: no writer configured", models.ErrWriteFailure)
	}

	var errs []error
	for _, w := range m.writers {
		err := w.Persist(ctx, columns, transactions)
		metrics.WritesTotal.WithLabelValues(w.Name(), metrics.Outcome(err)).Inc()
		if err != nil {
			m.logger.Error("persist failed", zap.String("writer", w.Name()), zap.Error(err))
			if !errors.Is(err, models.ErrWriteFailure) {
				err = fmt.Errorf("%w: %s: %v", models.ErrWriteFailure, w.Name(), err)
			}
			errs = append(errs, err)
			continue
		}
		m.logger.Info("dataset persisted", zap.String("writer", w.Name()), zap.Int("records", len(transactions)))
	}
	return errors.Join(errs...)
}

// StoreColumns are the columns mirrored into database writers.
var StoreColumns = []string{
	models.ColumnBlockDate,
	models.ColumnFromAddress,
	models.ColumnPyusdAmount,
	models.ColumnFromLabel,
	models.ColumnFromAddressLink,
}

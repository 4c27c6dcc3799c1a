package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estensen/pyusd-dashboard/internal/aggregator"
	"github.com/estensen/pyusd-dashboard/internal/loader"
	"github.com/estensen/pyusd-dashboard/internal/metrics"
	"github.com/estensen/pyusd-dashboard/internal/models"
	"github.com/estensen/pyusd-dashboard/internal/parser"
)

// Service runs render cycles: load, transform, aggregate.
type Service struct {
	source      string
	loader      loader.Loader
	transformer *parser.Transformer
	aggregator  aggregator.Aggregator
	writer      loader.Writer
	logger      *zap.Logger
}

// NewService wires a render cycle. writer may be nil when write-back is disabled.
func NewService(source string, l loader.Loader, t *parser.Transformer, agg aggregator.Aggregator, writer loader.Writer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if agg == nil {
		agg = aggregator.NewAggregator()
	}
	return &Service{
		source:      source,
		loader:      l,
		transformer: t,
		aggregator:  agg,
		writer:      writer,
		logger:      logger.With(zap.String("source", source)),
	}
}

func (s *Service) Source() string {
	return s.source
}

func (s *Service) CanPersist() bool {
	return s.writer != nil
}

// Render runs one full cycle for the session. On error no views are returned.
func (s *Service) Render(ctx context.Context, session models.Session) (models.Views, error) {
	start := time.Now()
	logger := s.logger.With(zap.String("cycle_id", uuid.NewString()), zap.String("page", string(session.Page)))

	views, loaded, err := s.render(ctx, session.Filter)
	metrics.RenderCycleLatency.WithLabelValues(s.source).Observe(time.Since(start).Seconds())
	metrics.RenderCyclesTotal.WithLabelValues(s.source, metrics.Outcome(err)).Inc()
	if err != nil {
		logger.Warn("render cycle failed", zap.Error(err))
		return models.Views{}, err
	}

	metrics.RecordsLoaded.WithLabelValues(s.source).Set(float64(loaded))
	metrics.FilteredRecords.WithLabelValues(s.source).Set(float64(len(views.Transactions)))
	logger.Debug("render cycle complete",
		zap.Int("records", loaded),
		zap.Int("filtered", len(views.Transactions)),
		zap.Int("days", len(views.DailyVolume)),
		zap.Int("wallets", len(views.Wallets)),
		zap.Duration("took", time.Since(start)),
	)
	return views, nil
}

func (s *Service) render(ctx context.Context, filter models.Filter) (models.Views, int, error) {
	// Reject a bad filter before touching the source.
	if err := aggregator.ValidateFilter(filter); err != nil {
		return models.Views{}, 0, err
	}

	_, transactions, err := s.Dataset(ctx)
	if err != nil {
		return models.Views{}, 0, err
	}

	views, err := s.aggregator.Aggregate(transactions, filter)
	if err != nil {
		return models.Views{}, 0, err
	}
	return views, len(transactions), nil
}

// Dataset loads and transforms the full, unfiltered dataset.
func (s *Service) Dataset(ctx context.Context) ([]string, []models.Transaction, error) {
	if s.loader == nil {
		return nil, nil, fmt.Errorf("%w: no loader configured", models.ErrSourceUnavailable)
	}

	ds, err := s.loader.Load(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
		return nil, nil, err
	}

	transactions, err := s.transformer.Transform(ds)
	if err != nil {
		return nil, nil, err
	}
	return ds.Columns, transactions, nil
}

// Persist writes a freshly loaded, unfiltered dataset through the configured writer.
func (s *Service) Persist(ctx context.Context) (int, error) {
	if s.writer == nil {
		return 0, fmt.Errorf("%w: write-back is not configured", models.ErrWriteFailure)
	}

	columns, transactions, err := s.Dataset(ctx)
	if err != nil {
		return 0, err
	}

	if err := s.writer.Persist(ctx, columns, transactions); err != nil {
		if !errors.Is(err, models.ErrWriteFailure) {
			err = fmt.Errorf("%w: %v", models.ErrWriteFailure, err)
		}
		return 0, err
	}

	s.logger.Info("dataset written back", zap.String("writer", s.writer.Name()), zap.Int("records", len(transactions)))
	return len(transactions), nil
}

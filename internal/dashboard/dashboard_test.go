package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estensen/pyusd-dashboard/internal/addressbook"
	"github.com/estensen/pyusd-dashboard/internal/models"
	"github.com/estensen/pyusd-dashboard/internal/parser"
)

type stubLoader struct {
	ds    models.Dataset
	err   error
	calls int
}

func (s *stubLoader) Load(context.Context) (models.Dataset, error) {
	s.calls++
	return s.ds, s.err
}

type stubWriter struct {
	err          error
	columns      []string
	transactions []models.Transaction
}

func (s *stubWriter) Name() string { return "stub" }

func (s *stubWriter) Persist(_ context.Context, columns []string, transactions []models.Transaction) error {
	s.columns = columns
	s.transactions = transactions
	return s.err
}

func sampleDataset() models.Dataset {
	row := func(n int, date, addr string, amount any) models.RawRecord {
		return models.RawRecord{Row: n, Values: map[string]any{
			"block_date":   date,
			"from_address": addr,
			"pyusd_amount": amount,
		}}
	}
	return models.Dataset{
		Columns: []string{"block_date", "from_address", "pyusd_amount"},
		Records: []models.RawRecord{
			row(2, "2024-04-01", "0x264bd8291fae1d75db2c5f573b07faa6715997b5", 100.0),
			row(3, "2024-04-01", "0x9999999999999999999999999999999999999999", "50"),
			row(4, "2024-04-02", "0x264bd8291fae1d75db2c5f573b07faa6715997b5", "25"),
		},
	}
}

func newTestService(l *stubLoader, w *stubWriter) *Service {
	tr := parser.NewTransformer(addressbook.Default(), "")
	// A nil *stubWriter must not become a non-nil Writer.
	if w == nil {
		return NewService("stub", l, tr, nil, nil, nil)
	}
	return NewService("stub", l, tr, nil, w, nil)
}

func TestRender(t *testing.T) {
	l := &stubLoader{ds: sampleDataset()}
	svc := newTestService(l, nil)

	views, err := svc.Render(context.Background(), models.Session{Page: models.PageHome})
	require.NoError(t, err)

	require.Len(t, views.DailyVolume, 2)
	assert.True(t, decimal.NewFromInt(150).Equal(views.DailyVolume[0].TotalAmount))
	require.Len(t, views.Transactions, 3)
	assert.Equal(t, "Paxos 4 (Hildobby)", views.Transactions[0].FromLabel)
	assert.Equal(t, "Unknown", views.Transactions[1].FromLabel)
	require.Len(t, views.Wallets, 2)
	assert.Equal(t, uint64(2), views.Wallets[0].TotalTransactions)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), views.Filter.Start)
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), views.Filter.End)
}

func TestRenderReloadsEveryCycle(t *testing.T) {
	l := &stubLoader{ds: sampleDataset()}
	svc := newTestService(l, nil)

	_, err := svc.Render(context.Background(), models.Session{})
	require.NoError(t, err)
	_, err = svc.Render(context.Background(), models.Session{})
	require.NoError(t, err)

	assert.Equal(t, 2, l.calls)
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	malformed := sampleDataset()
	malformed.Records[1].Values["pyusd_amount"] = "n/a"

	start := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		loader      *stubLoader
		filter      models.Filter
		expectedErr error
		loadCalls   int
	}{
		{
			name:        "source unavailable",
			loader:      &stubLoader{err: errors.New("dial tcp: connection refused")},
			expectedErr: models.ErrSourceUnavailable,
			loadCalls:   1,
		},
		{
			name:        "malformed record",
			loader:      &stubLoader{ds: malformed},
			expectedErr: models.ErrMalformedRecord,
			loadCalls:   1,
		},
		{
			name:        "invalid filter rejected before loading",
			loader:      &stubLoader{ds: sampleDataset()},
			filter:      models.Filter{Start: &start, End: &end},
			expectedErr: models.ErrInvalidFilterRange,
			loadCalls:   0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(tc.loader, nil)
			views, err := svc.Render(context.Background(), models.Session{Filter: tc.filter})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.expectedErr), "got %v", err)
			assert.Nil(t, views.Transactions)
			assert.Equal(t, tc.loadCalls, tc.loader.calls)
		})
	}
}

func TestPersist(t *testing.T) {
	w := &stubWriter{}
	svc := newTestService(&stubLoader{ds: sampleDataset()}, w)
	require.True(t, svc.CanPersist())

	n, err := svc.Persist(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"block_date", "from_address", "pyusd_amount"}, w.columns)
	require.Len(t, w.transactions, 3)
	assert.Equal(t, "https://etherscan.io/address/0x264bd8291fae1d75db2c5f573b07faa6715997b5", w.transactions[0].FromAddressLink)
}

func TestPersistFailures(t *testing.T) {
	svc := newTestService(&stubLoader{ds: sampleDataset()}, nil)
	require.False(t, svc.CanPersist())
	_, err := svc.Persist(context.Background())
	assert.True(t, errors.Is(err, models.ErrWriteFailure))

	svc = newTestService(&stubLoader{ds: sampleDataset()}, &stubWriter{err: errors.New("403 forbidden")})
	_, err = svc.Persist(context.Background())
	assert.True(t, errors.Is(err, models.ErrWriteFailure))

	svc = newTestService(&stubLoader{err: errors.New("timeout")}, &stubWriter{})
	_, err = svc.Persist(context.Background())
	assert.True(t, errors.Is(err, models.ErrSourceUnavailable))
}

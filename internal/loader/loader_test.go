package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estensen/pyusd-dashboard/internal/models"
)

type fakeWriter struct {
	name  string
	err   error
	calls int
	rows  int
}

func (f *fakeWriter) Name() string { return f.name }

func (f *fakeWriter) Persist(_ context.Context, _ []string, transactions []models.Transaction) error {
	f.calls++
	f.rows = len(transactions)
	return f.err
}

func TestMultiWriterPersist(t *testing.T) {
	first := &fakeWriter{name: "first"}
	second := &fakeWriter{name: "second"}
	mw := NewMultiWriter(nil, first, second)

	err := mw.Persist(context.Background(), nil, make([]models.Transaction, 4))
	require.NoError(t, err)

	assert.Equal(t, 2, mw.Len())
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 4, second.rows)
}

func TestMultiWriterContinuesAfterFailure(t *testing.T) {
	failing := &fakeWriter{name: "failing", err: errors.New("quota exceeded")}
	ok := &fakeWriter{name: "ok"}

	err := NewMultiWriter(nil, failing, ok).Persist(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrWriteFailure))
	assert.Contains(t, err.Error(), "failing")
	assert.Equal(t, 1, ok.calls)
}

func TestMultiWriterWithoutWriters(t *testing.T) {
	err := NewMultiWriter(nil).Persist(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrWriteFailure))
}

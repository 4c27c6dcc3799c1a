package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/estensen/pyusd-dashboard/internal/models"
	"github.com/estensen/pyusd-dashboard/internal/storage"
)

// FileName is the suggested name for a downloaded export.
const FileName = "filtered_pyusd.csv"

// Header is the column order of the filtered transaction export.
var Header = []string{
	models.ColumnFromAddressLink,
	models.ColumnFromLabel,
	models.ColumnPyusdAmount,
	models.ColumnBlockDate,
}

// WriteCSV writes the filtered transaction view as CSV.
func WriteCSV(w io.Writer, rows []models.TransactionView) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.FromAddressLink,
			row.FromLabel,
			row.PyusdAmount.String(),
			row.BlockDate.Format(models.DateLayout),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("error flushing CSV writer: %w", err)
	}
	return nil
}

// Archiver uploads CSV exports to object storage.
type Archiver struct {
	Storage storage.Storage
	logger  *zap.Logger
}

func NewArchiver(s storage.Storage, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{Storage: s, logger: logger}
}

// ObjectName names an export after its resolved filter.
func ObjectName(filter models.ResolvedFilter) string {
	name := fmt.Sprintf("exports/filtered_pyusd-%s_%s", filter.Start.Format(models.DateLayout), filter.End.Format(models.DateLayout))
	if filter.Wallet != "" {
		name += "-" + filter.Wallet
	}
	return name + ".csv"
}

// Archive renders the views' transactions as CSV and uploads them. It returns the object name.
func (a *Archiver) Archive(ctx context.Context, views models.Views) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, views.Transactions); err != nil {
		return "", err
	}

	objectName := ObjectName(views.Filter)
	if err := a.Storage.UploadFile(ctx, objectName, bytes.NewReader(buf.Bytes())); err != nil {
		return "", fmt.Errorf("error uploading export: %w", err)
	}

	a.logger.Info("export archived", zap.String("object", objectName), zap.Int("rows", len(views.Transactions)))
	return objectName, nil
}

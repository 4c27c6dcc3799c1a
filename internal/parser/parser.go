package parser

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/estensen/pyusd-dashboard/internal/addressbook"
	"github.com/estensen/pyusd-dashboard/internal/models"
)

// DefaultExplorerURL is prefixed to an address to build its explorer link.
const DefaultExplorerURL = "https://etherscan.io/address/"

var dateLayouts = []string{
	models.DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05 MST",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
}

// Spreadsheet serial dates count days from this epoch.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// CSVParser reads a CSV export of the transaction log. It doubles as a Loader.
type CSVParser struct {
	path string
}

func NewCSVParser(path string) *CSVParser {
	return &CSVParser{path: path}
}

// Load implements the Loader contract over the configured CSV file.
func (p *CSVParser) Load(_ context.Context) (models.Dataset, error) {
	ds, err := p.ParseCSV(p.path)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return ds, nil
}

func (p *CSVParser) ParseCSV(filePath string) (models.Dataset, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return models.Dataset{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	records, err := reader.ReadAll()
	if err != nil {
		return models.Dataset{}, err
	}
	if len(records) == 0 {
		return models.Dataset{}, nil
	}

	columns := make([]string, len(records[0]))
	for i, name := range records[0] {
		columns[i] = strings.TrimSpace(name)
	}

	ds := models.Dataset{Columns: columns}
	for i, record := range records[1:] {
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}
		values := make(map[string]any, len(columns))
		for j, name := range columns {
			if j < len(record) {
				values[name] = record[j]
			} else {
				values[name] = ""
			}
		}
		// Row numbers count the header as row 1.
		ds.Records = append(ds.Records, models.RawRecord{Row: i + 2, Values: values})
	}
	return ds, nil
}

// ParseRecord types the required cells of a raw row. Derived fields are left empty.
func ParseRecord(raw models.RawRecord) (models.Transaction, error) {
	var txn models.Transaction

	dateCell, err := requireCell(raw, models.ColumnBlockDate)
	if err != nil {
		return txn, err
	}
	txn.BlockDate, err = ParseBlockDate(dateCell)
	if err != nil {
		return txn, malformed(raw, models.ColumnBlockDate, dateCell, err.Error())
	}

	addrCell, err := requireCell(raw, models.ColumnFromAddress)
	if err != nil {
		return txn, err
	}
	addr, ok := addrCell.(string)
	if !ok || strings.TrimSpace(addr) == "" {
		return txn, malformed(raw, models.ColumnFromAddress, addrCell, "expected a non-empty address")
	}
	txn.FromAddress = strings.TrimSpace(addr)

	amountCell, err := requireCell(raw, models.ColumnPyusdAmount)
	if err != nil {
		return txn, err
	}
	txn.PyusdAmount, err = ParseAmount(amountCell)
	if err != nil {
		return txn, malformed(raw, models.ColumnPyusdAmount, amountCell, err.Error())
	}

	txn.Raw = raw
	return txn, nil
}

// ParseBlockDate accepts date strings in the layouts spreadsheets commonly produce,
// or a numeric serial date. The time of day is dropped.
func ParseBlockDate(cell any) (time.Time, error) {
	switch v := cell.(type) {
	case time.Time:
		return models.TruncateToDate(v), nil
	case float64:
		return fromSerial(v)
	case int64:
		return fromSerial(float64(v))
	case int:
		return fromSerial(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid serial date")
		}
		return fromSerial(f)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty date")
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return models.TruncateToDate(t), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date format")
	default:
		return time.Time{}, fmt.Errorf("unsupported date cell type %T", cell)
	}
}

func fromSerial(days float64) (time.Time, error) {
	if math.IsNaN(days) || math.IsInf(days, 0) || days < 1 {
		return time.Time{}, fmt.Errorf("invalid serial date")
	}
	return serialEpoch.AddDate(0, 0, int(math.Floor(days))), nil
}

// ParseAmount converts a numeric or decimal-string cell to a non-negative decimal.
func ParseAmount(cell any) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch v := cell.(type) {
	case decimal.Decimal:
		amount = v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("amount is not finite")
		}
		amount = decimal.NewFromFloat(v)
	case int64:
		amount = decimal.NewFromInt(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount")
		}
		amount = d
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty amount")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount")
		}
		amount = d
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount cell type %T", cell)
	}

	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func requireCell(raw models.RawRecord, field string) (any, error) {
	v, ok := raw.Values[field]
	if !ok || v == nil {
		return nil, malformed(raw, field, nil, "missing required field")
	}
	return v, nil
}

func malformed(raw models.RawRecord, field string, value any, reason string) error {
	return &models.MalformedRecordError{Row: raw.Row, Field: field, Value: value, Reason: reason}
}

// Transformer derives display columns from typed records.
type Transformer struct {
	book        *addressbook.Book
	explorerURL string
}

func NewTransformer(book *addressbook.Book, explorerURL string) *Transformer {
	if explorerURL == "" {
		explorerURL = DefaultExplorerURL
	}
	return &Transformer{book: book, explorerURL: explorerURL}
}

// Transform types and enriches every record of ds in source order.
// The first malformed record aborts the whole load.
func (t *Transformer) Transform(ds models.Dataset) ([]models.Transaction, error) {
	transactions := make([]models.Transaction, 0, len(ds.Records))
	for _, raw := range ds.Records {
		txn, err := ParseRecord(raw)
		if err != nil {
			return nil, err
		}
		txn.FromLabel = t.book.Label(txn.FromAddress)
		txn.FromAddressLink = t.Link(txn.FromAddress)
		transactions = append(transactions, txn)
	}
	return transactions, nil
}

func (t *Transformer) Link(addr string) string {
	return t.explorerURL + addr
}

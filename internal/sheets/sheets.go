package sheets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/estensen/pyusd-dashboard/internal/models"
)

// DefaultTitle is the workbook opened when no spreadsheet ID is configured.
const DefaultTitle = "PYUSD Transaction Log"

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// Scopes requested for the service account.
var Scopes = []string{gsheets.SpreadsheetsScope, drive.DriveFileScope}

type Config struct {
	CredentialsFile  string
	SpreadsheetID    string
	SpreadsheetTitle string
	WorksheetIndex   int
}

// Client reads and overwrites one worksheet of a Google spreadsheet.
type Client struct {
	cfg    Config
	sheets *gsheets.Service
	drive  *drive.Service
	logger *zap.Logger

	mu            sync.Mutex
	spreadsheetID string
}

// NewClient authenticates with the service account in cfg.CredentialsFile.
// When opts are given they replace the service-account transport.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SpreadsheetTitle == "" {
		cfg.SpreadsheetTitle = DefaultTitle
	}

	if len(opts) == 0 {
		httpOpt, err := serviceAccountOption(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: authentication failed: %v", models.ErrSourceUnavailable, err)
		}
		opts = []option.ClientOption{httpOpt}
	}

	sheetsSvc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create sheets service: %v", models.ErrSourceUnavailable, err)
	}

	c := &Client{
		cfg:           cfg,
		sheets:        sheetsSvc,
		logger:        logger,
		spreadsheetID: cfg.SpreadsheetID,
	}

	if cfg.SpreadsheetID == "" {
		c.drive, err = drive.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: create drive service: %v", models.ErrSourceUnavailable, err)
		}
	}
	return c, nil
}

func serviceAccountOption(ctx context.Context, credentialsFile string) (option.ClientOption, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("credentials file is required")
	}
	jsonKey, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, err
	}
	conf, err := google.JWTConfigFromJSON(jsonKey, Scopes...)
	if err != nil {
		return nil, err
	}
	return option.WithHTTPClient(conf.Client(ctx)), nil
}

func (c *Client) Name() string {
	return "sheets"
}

// resolveSpreadsheetID looks the workbook up by title once and remembers the ID.
func (c *Client) resolveSpreadsheetID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spreadsheetID != "" {
		return c.spreadsheetID, nil
	}
	if c.drive == nil {
		return "", fmt.Errorf("no spreadsheet id and no drive service")
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		strings.ReplaceAll(c.cfg.SpreadsheetTitle, "'", `\'`), spreadsheetMimeType)
	list, err := c.drive.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find spreadsheet %q: %w", c.cfg.SpreadsheetTitle, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("spreadsheet %q not found", c.cfg.SpreadsheetTitle)
	}

	c.spreadsheetID = list.Files[0].Id
	c.logger.Info("spreadsheet resolved", zap.String("title", c.cfg.SpreadsheetTitle), zap.String("id", c.spreadsheetID))
	return c.spreadsheetID, nil
}

type worksheetRef struct {
	spreadsheetID string
	name          string // quoted for A1 ranges
	rows          int
	columns       int
}

// worksheet looks up the configured worksheet and its current grid size.
func (c *Client) worksheet(ctx context.Context) (worksheetRef, error) {
	id, err := c.resolveSpreadsheetID(ctx)
	if err != nil {
		return worksheetRef{}, err
	}

	ss, err := c.sheets.Spreadsheets.Get(id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return worksheetRef{}, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties == nil || int(sh.Properties.Index) != c.cfg.WorksheetIndex {
			continue
		}
		ref := worksheetRef{spreadsheetID: id, name: quoteSheetName(sh.Properties.Title)}
		if grid := sh.Properties.GridProperties; grid != nil {
			ref.rows = int(grid.RowCount)
			ref.columns = int(grid.ColumnCount)
		}
		return ref, nil
	}
	return worksheetRef{}, fmt.Errorf("worksheet %d not found", c.cfg.WorksheetIndex)
}

func quoteSheetName(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// columnName converts a 1-based column index to its A1 letters.
func columnName(n int) string {
	var name []byte
	for n > 0 {
		n--
		name = append([]byte{byte('A' + n%26)}, name...)
		n /= 26
	}
	return string(name)
}

// staleRanges returns the parts of the old grid outside a rows x columns table.
func (ref worksheetRef) staleRanges(rows, columns int) []string {
	var ranges []string
	if ref.columns > columns {
		ranges = append(ranges, fmt.Sprintf("%s!%s1:%s%d", ref.name, columnName(columns+1), columnName(ref.columns), rows))
	}
	if ref.rows > rows {
		width := max(columns, ref.columns)
		ranges = append(ranges, fmt.Sprintf("%s!A%d:%s%d", ref.name, rows+1, columnName(width), ref.rows))
	}
	return ranges
}

// Load reads every row of the worksheet. The first row is the header.
// Numbers come back unformatted so display rounding never reaches the amounts.
func (c *Client) Load(ctx context.Context) (models.Dataset, error) {
	ref, err := c.worksheet(ctx)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	resp, err := c.sheets.Spreadsheets.Values.Get(ref.spreadsheetID, ref.name).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).
		Do()
	if err != nil {
		return models.Dataset{}, fmt.Errorf("%w: read values: %v", models.ErrSourceUnavailable, err)
	}

	ds, err := Records(resp.Values)
	if err != nil {
		return models.Dataset{}, err
	}
	c.logger.Debug("worksheet loaded", zap.String("range", ref.name), zap.Int("records", len(ds.Records)))
	return ds, nil
}

// Records maps worksheet rows onto the header row. Blank rows are skipped.
func Records(values [][]interface{}) (models.Dataset, error) {
	if len(values) == 0 {
		return models.Dataset{}, nil
	}

	columns := make([]string, len(values[0]))
	seen := make(map[string]bool, len(values[0]))
	for i, cell := range values[0] {
		name := strings.TrimSpace(fmt.Sprint(cell))
		if name != "" && seen[name] {
			return models.Dataset{}, &models.MalformedRecordError{Row: 1, Field: name, Reason: "duplicate header"}
		}
		seen[name] = true
		columns[i] = name
	}

	ds := models.Dataset{Columns: columns}
	for i, row := range values[1:] {
		if isBlank(row) {
			continue
		}
		rec := models.RawRecord{Row: i + 2, Values: make(map[string]any, len(columns))}
		for j, name := range columns {
			if name == "" {
				continue
			}
			if j < len(row) {
				rec.Values[name] = row[j]
			} else {
				rec.Values[name] = ""
			}
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

func isBlank(row []interface{}) bool {
	for _, cell := range row {
		if strings.TrimSpace(fmt.Sprint(cell)) != "" {
			return false
		}
	}
	return true
}

// Persist overwrites the worksheet with the header and every transaction, then
// clears whatever the previous contents left outside the new table. A failed
// write leaves the old rows in place.
// Values are sent as USER_ENTERED so amounts and dates land as numbers and dates.
func (c *Client) Persist(ctx context.Context, columns []string, transactions []models.Transaction) error {
	ref, err := c.worksheet(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteFailure, err)
	}

	table := Table(columns, transactions)
	body := &gsheets.ValueRange{Values: table}
	resp, err := c.sheets.Spreadsheets.Values.Update(ref.spreadsheetID, ref.name+"!A1", body).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: update worksheet: %v", models.ErrWriteFailure, err)
	}

	if stale := ref.staleRanges(len(table), len(table[0])); len(stale) > 0 {
		req := &gsheets.BatchClearValuesRequest{Ranges: stale}
		if _, err := c.sheets.Spreadsheets.Values.BatchClear(ref.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("%w: trim worksheet: %v", models.ErrWriteFailure, err)
		}
	}

	c.logger.Info("worksheet updated",
		zap.String("range", resp.UpdatedRange),
		zap.Int64("rows", resp.UpdatedRows),
		zap.Int64("cells", resp.UpdatedCells),
	)
	return nil
}

// Table lays out the dataset as worksheet rows: source columns first, derived columns appended.
func Table(columns []string, transactions []models.Transaction) [][]interface{} {
	header := append([]string{}, columns...)
	if len(header) == 0 {
		header = append(header, models.ColumnBlockDate, models.ColumnFromAddress, models.ColumnPyusdAmount)
	}
	for _, derived := range []string{models.ColumnFromLabel, models.ColumnFromAddressLink} {
		if !contains(header, derived) {
			header = append(header, derived)
		}
	}

	rows := make([][]interface{}, 0, len(transactions)+1)
	headerRow := make([]interface{}, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	rows = append(rows, headerRow)

	for _, txn := range transactions {
		row := make([]interface{}, len(header))
		for i, name := range header {
			row[i] = cell(name, txn)
		}
		rows = append(rows, row)
	}
	return rows
}

func cell(column string, txn models.Transaction) interface{} {
	switch column {
	case models.ColumnBlockDate:
		return txn.BlockDate.Format(models.DateLayout)
	case models.ColumnFromAddress:
		return txn.FromAddress
	case models.ColumnPyusdAmount:
		return txn.PyusdAmount.String()
	case models.ColumnFromLabel:
		return txn.FromLabel
	case models.ColumnFromAddressLink:
		return txn.FromAddressLink
	}
	if v, ok := txn.Raw.Values[column]; ok && v != nil {
		return v
	}
	return ""
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

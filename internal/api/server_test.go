package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estensen/pyusd-dashboard/internal/addressbook"
	"github.com/estensen/pyusd-dashboard/internal/dashboard"
	"github.com/estensen/pyusd-dashboard/internal/models"
	"github.com/estensen/pyusd-dashboard/internal/parser"
)

type staticLoader struct {
	ds  models.Dataset
	err error
}

func (l staticLoader) Load(context.Context) (models.Dataset, error) {
	return l.ds, l.err
}

type countingWriter struct {
	calls int
	err   error
}

func (w *countingWriter) Name() string { return "counting" }

func (w *countingWriter) Persist(context.Context, []string, []models.Transaction) error {
	w.calls++
	return w.err
}

func dataset(amount any) models.Dataset {
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
			row(2, "2024-04-01", "0x264bd8291fae1d75db2c5f573b07faa6715997b5", "1250.5"),
			row(3, "2024-04-02", "0x9999999999999999999999999999999999999999", amount),
		},
	}
}

func newTestServer(t *testing.T, l staticLoader, w *countingWriter) (*Server, *Hub) {
	t.Helper()

	tr := parser.NewTransformer(addressbook.Default(), "")
	var svc *dashboard.Service
	if w == nil {
		svc = dashboard.NewService("test", l, tr, nil, nil, nil)
	} else {
		svc = dashboard.NewService("test", l, tr, nil, w, nil)
	}
	hub := NewHub(nil)
	return NewServer(svc, hub, time.Minute, nil), hub
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestViewsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/views?start=2024-04-01&end=2024-04-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views struct {
		DailyVolume []struct {
			BlockDate   time.Time `json:"block_date"`
			PyusdAmount string    `json:"pyusd_amount"`
		} `json:"daily_volume"`
		Transactions []map[string]any `json:"transactions"`
		Wallets      []map[string]any `json:"wallets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views.DailyVolume, 1)
	assert.Equal(t, "1250.5", views.DailyVolume[0].PyusdAmount)
	require.Len(t, views.Transactions, 1)
	assert.Equal(t, "Paxos 4 (Hildobby)", views.Transactions[0]["from_label"])
	assert.Len(t, views.Wallets, 1)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		loader staticLoader
		target string
		status int
	}{
		{name: "bad date", loader: staticLoader{ds: dataset("7")}, target: "/api/views?start=yesterday", status: http.StatusBadRequest},
		{name: "start after end", loader: staticLoader{ds: dataset("7")}, target: "/api/views?start=2024-04-03&end=2024-04-01", status: http.StatusBadRequest},
		{name: "bad wallet", loader: staticLoader{ds: dataset("7")}, target: "/api/views?wallet=0x%25", status: http.StatusBadRequest},
		{name: "source down", loader: staticLoader{err: errors.New("dial tcp: timeout")}, target: "/api/views", status: http.StatusBadGateway},
		{name: "malformed row", loader: staticLoader{ds: dataset("-3")}, target: "/api/views", status: http.StatusBadGateway},
		{name: "csv source down", loader: staticLoader{err: errors.New("403")}, target: "/api/transactions.csv", status: http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(t, tc.loader, nil)
			rec := do(t, s.Handler(), http.MethodGet, tc.target)
			require.Equal(t, tc.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCSVDownload(t *testing.T) {
	s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/transactions.csv?wallet=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="filtered_pyusd.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t,
		"from_address_link,from_label,pyusd_amount,block_date\n"+
			"https://etherscan.io/address/0x9999999999999999999999999999999999999999,Unknown,7,2024-04-02\n",
		rec.Body.String())
}

func TestSyncIsRateLimited(t *testing.T) {
	w := &countingWriter{}
	s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, w)
	h := s.Handler()

	first := do(t, h, http.MethodPost, "/api/sync")
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"records":2}`, first.Body.String())

	second := do(t, h, http.MethodPost, "/api/sync")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "30", second.Header().Get("Retry-After"))
	assert.Equal(t, 1, w.calls)
}

func TestSyncRejectsCrossOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		headers  map[string]string
		expected int
	}{
		{name: "no browser headers", expected: http.StatusOK},
		{name: "same origin fetch", headers: map[string]string{"Sec-Fetch-Site": "same-origin", "Origin": "http://example.com"}, expected: http.StatusOK},
		{name: "matching origin", headers: map[string]string{"Origin": "http://example.com"}, expected: http.StatusOK},
		{name: "cross site form", headers: map[string]string{"Sec-Fetch-Site": "cross-site", "Origin": "http://evil.test"}, expected: http.StatusForbidden},
		{name: "same site subdomain", headers: map[string]string{"Sec-Fetch-Site": "same-site"}, expected: http.StatusForbidden},
		{name: "foreign origin", headers: map[string]string{"Origin": "http://evil.test"}, expected: http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := &countingWriter{}
			s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, w)

			req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tc.expected, rec.Code)
			if tc.expected == http.StatusForbidden {
				assert.Equal(t, 0, w.calls)
			}
		})
	}
}

func TestSyncFailures(t *testing.T) {
	t.Run("no writer", func(t *testing.T) {
		s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, nil)
		rec := do(t, s.Handler(), http.MethodPost, "/api/sync")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("writer error", func(t *testing.T) {
		s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, &countingWriter{err: errors.New("quota exceeded")})
		rec := do(t, s.Handler(), http.MethodPost, "/api/sync")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "quota exceeded")
	})

	t.Run("wrong method", func(t *testing.T) {
		s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, &countingWriter{})
		rec := do(t, s.Handler(), http.MethodGet, "/api/sync")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestIndexPages(t *testing.T) {
	tests := []struct {
		query    string
		status   int
		contains []string
	}{
		{query: "", status: http.StatusOK, contains: []string{"Daily Volume", "Volume Distribution", "<polyline", `value="2024-04-01"`}},
		{query: "?page=transactions&wallet=264bd8", status: http.StatusOK, contains: []string{"Wallet Transfers (Filtered)", "Paxos 4 (Hildobby)", "1,250.50", "/api/transactions.csv?wallet=264bd8"}},
		{query: "?page=tags", status: http.StatusOK, contains: []string{"Wallet Summary", "0x9999999999999999999999999999999999999999"}},
		{query: "?page=unknown", status: http.StatusOK, contains: []string{"Daily Volume"}},
		{query: "?autorefresh=1", status: http.StatusOK, contains: []string{"new WebSocket", "checked"}},
		{query: "?start=2024-04-05&end=2024-04-01", status: http.StatusBadRequest, contains: []string{`class="error"`}},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, &countingWriter{})
			rec := do(t, s.Handler(), http.MethodGet, "/"+tc.query)
			require.Equal(t, tc.status, rec.Code)
			for _, c := range tc.contains {
				assert.Contains(t, rec.Body.String(), c)
			}
		})
	}
}

func TestIndexWithoutWriterHidesSync(t *testing.T) {
	s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `id="sync"`)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, staticLoader{ds: dataset("7")}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","source":"test","clients":0}`, rec.Body.String())

	do(t, h, http.MethodGet, "/api/views")
	rec = do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashboard_render_cycles_total")
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestSyncBroadcastsRefresh(t *testing.T) {
	s, hub := newTestServer(t, staticLoader{ds: dataset("7")}, &countingWriter{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/sync", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "refresh", readMessage(t, conn).Type)
}

func TestHubRun(t *testing.T) {
	s, hub := newTestServer(t, staticLoader{ds: dataset("7")}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, 20*time.Millisecond) }()

	assert.Equal(t, "refresh", readMessage(t, conn).Type)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, hub.Len())
}

func TestHubDropsClosedClients(t *testing.T) {
	s, hub := newTestServer(t, staticLoader{ds: dataset("7")}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

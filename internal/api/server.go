package api

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/estensen/pyusd-dashboard/internal/aggregator"
	"github.com/estensen/pyusd-dashboard/internal/dashboard"
	"github.com/estensen/pyusd-dashboard/internal/export"
	"github.com/estensen/pyusd-dashboard/internal/models"
	"github.com/estensen/pyusd-dashboard/internal/utils"
)

// SyncEvery is the minimum spacing between accepted write-back requests.
const SyncEvery = 30 * time.Second

//go:embed templates/index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"amount": utils.FormatAmount,
	"count":  utils.FormatCount,
	"date":   func(t time.Time) string { return t.Format(models.DateLayout) },
	"sub":    func(a, b float64) float64 { return a - b },
}).Parse(indexHTML))

// Server represents the dashboard HTTP server.
type Server struct {
	svc     *dashboard.Service
	hub     *Hub
	limiter *rate.Limiter
	refresh time.Duration
	logger  *zap.Logger
}

// NewServer initializes a new dashboard server. hub may be nil when auto-refresh is disabled.
func NewServer(svc *dashboard.Service, hub *Hub, refresh time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		svc:     svc,
		hub:     hub,
		limiter: rate.NewLimiter(rate.Every(SyncEvery), 1),
		refresh: refresh,
		logger:  logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/views", s.handleViews)
	mux.HandleFunc("GET /api/transactions.csv", s.handleCSV)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("dashboard server shutdown error", zap.Error(err))
		}
	}()

	s.logger.Info("dashboard server started", zap.String("addr", addr), zap.String("source", s.svc.Source()))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// sessionFromRequest reads page, filter and auto-refresh state from the query string.
func sessionFromRequest(r *http.Request) (models.Session, error) {
	q := r.URL.Query()
	autoRefresh, _ := strconv.ParseBool(q.Get("autorefresh"))
	session := models.Session{
		Page:        models.ParsePage(q.Get("page")),
		AutoRefresh: autoRefresh,
	}

	filter, err := aggregator.ParseFilter(q.Get("start"), q.Get("end"), q.Get("wallet"))
	if err != nil {
		session.Filter.Wallet = q.Get("wallet")
		return session, err
	}
	session.Filter = filter
	return session, nil
}

// statusFor maps a cycle error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidFilterRange):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSourceUnavailable),
		errors.Is(err, models.ErrMalformedRecord),
		errors.Is(err, models.ErrWriteFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("error encoding response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) render(r *http.Request) (models.Session, models.Views, error) {
	session, err := sessionFromRequest(r)
	if err != nil {
		return session, models.Views{}, err
	}
	views, err := s.svc.Render(r.Context(), session)
	return session, views, err
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	_, views, err := s.render(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	_, views, err := s.render(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, views.Transactions); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	_, _ = w.Write(buf.Bytes())
}

// sameOrigin rejects browser requests sent from another site. Requests without
// Sec-Fetch-Site or Origin come from non-browser clients and pass.
func sameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "":
	case "same-origin", "none":
		return true
	default:
		return false
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "cross-origin sync request rejected"})
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", strconv.Itoa(int(SyncEvery.Seconds())))
		s.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "sync already requested, try again later"})
		return
	}

	n, err := s.svc.Persist(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.hub.Broadcast(refreshMessage)
	s.writeJSON(w, http.StatusOK, map[string]any{"records": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"source":  s.svc.Source(),
		"clients": s.hub.Len(),
	})
}

type navItem struct {
	Title  string
	Href   template.URL
	Active bool
}

type pageData struct {
	Session      models.Session
	Views        models.Views
	Chart        chart
	Start        string
	End          string
	Nav          []navItem
	CSVHref      template.URL
	FileName     string
	Source       string
	CanSync      bool
	RefreshEvery time.Duration
	Error        string
}

var navPages = []struct {
	page  models.Page
	title string
}{
	{models.PageHome, "Home"},
	{models.PageTransactions, "Transactions"},
	{models.PageTags, "Tags"},
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	session, views, err := s.render(r)

	q := r.URL.Query()
	filterQuery := url.Values{}
	for _, key := range []string{"start", "end", "wallet", "autorefresh"} {
		if v := q.Get(key); v != "" {
			filterQuery.Set(key, v)
		}
	}

	data := pageData{
		Session:      session,
		Views:        views,
		Chart:        buildChart(views.DailyVolume),
		Start:        q.Get("start"),
		End:          q.Get("end"),
		CSVHref:      template.URL("/api/transactions.csv?" + filterQuery.Encode()),
		FileName:     export.FileName,
		Source:       s.svc.Source(),
		CanSync:      s.svc.CanPersist(),
		RefreshEvery: s.refresh,
	}
	if !views.Filter.Start.IsZero() {
		data.Start = views.Filter.Start.Format(models.DateLayout)
		data.End = views.Filter.End.Format(models.DateLayout)
	}
	for _, p := range navPages {
		nq := url.Values{}
		for k, v := range filterQuery {
			nq[k] = v
		}
		nq.Set("page", string(p.page))
		data.Nav = append(data.Nav, navItem{Title: p.title, Href: template.URL("/?" + nq.Encode()), Active: p.page == session.Page})
	}

	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		data.Error = err.Error()
		s.logger.Warn("render failed", zap.Int("status", status), zap.Error(err))
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		s.logger.Error("template execution failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"almanac/internal/agenda"
	"almanac/internal/calendar"
	"almanac/internal/config"
	"almanac/internal/document"
	appLog "almanac/internal/log"
	"almanac/internal/metrics"
	"almanac/internal/model"
	"almanac/internal/recurrence"
)

// Server provides the HTTP API over an agenda store.
type Server struct {
	cfg     *config.Config
	store   *agenda.Store
	metrics *metrics.Metrics
	mux     *http.ServeMux

	// In-memory cache for GET responses. Entries are tied to the store
	// generation, so a cursor move or reload invalidates them all.
	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	body       []byte
	generation uint64
	updatedAt  time.Time
}

// NewServer constructs a new Server. m may be nil.
func NewServer(cfg *config.Config, store *agenda.Store, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		metrics: m,
		mux:     http.NewServeMux(),
		cache:   make(map[string]cacheEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := s.instrument(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password leaves auth disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Almanac", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// knownPaths keeps the metrics path label bounded.
var knownPaths = map[string]struct{}{
	"/health":          {},
	"/metrics":         {},
	"/api/calendars":   {},
	"/api/occurrences": {},
	"/api/conflicts":   {},
	"/api/next":        {},
	"/api/time":        {},
	"/api/reload":      {},
}

func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if _, ok := knownPaths[path]; !ok {
			path = "other"
		}
		s.metrics.ObserveHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, store *agenda.Store, m *metrics.Metrics) error {
	s := NewServer(cfg, store, m)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/api/calendars", s.handleCalendars)
	s.mux.HandleFunc("/api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("/api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("/api/next", s.handleNext)
	s.mux.HandleFunc("/api/time", s.handleTime)
	s.mux.HandleFunc("/api/reload", s.handleReload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrenceDTO adds display strings to an occurrence.
type occurrenceDTO struct {
	model.Occurrence
	StartText string `json:"start_text"`
	EndText   string `json:"end_text"`
}

type occurrencesResponse struct {
	Calendar    string             `json:"calendar"`
	From        calendar.Timestamp `json:"from"`
	To          calendar.Timestamp `json:"to"`
	Occurrences []occurrenceDTO    `json:"occurrences"`
	Skipped     []string           `json:"skipped,omitempty"`
	Truncated   []string           `json:"truncated,omitempty"`
}

func toDTOs(schema *calendar.Schema, occs []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occs))
	for _, occ := range occs {
		out = append(out, occurrenceDTO{
			Occurrence: occ,
			StartText:  calendar.FormatWithSchema(schema, occ.Start),
			EndText:    calendar.FormatWithSchema(schema, occ.End),
		})
	}
	return out
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	s.cached(w, r, func() (any, int, error) {
		return map[string]any{"calendars": s.store.Calendars()}, http.StatusOK, nil
	})
}

// handleOccurrences returns the merged agenda of one calendar.
//
// GET /api/occurrences?calendar=harptos&from=1492/ches/1&to=1492/ches/30
//   - from:          defaults to the calendar's current time
//   - to | days:     window end; days defaults to the configured horizon
//   - limit:         cap after sorting, 0 means none
//   - include_start: keep occurrences starting exactly at from
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	s.cached(w, r, func() (any, int, error) {
		q, status, err := s.parseQuery(r)
		if err != nil {
			return nil, status, err
		}
		a, err := s.store.Agenda(q)
		if err != nil {
			return nil, statusFor(err), err
		}
		return occurrencesResponse{
			Calendar:    a.Calendar,
			From:        a.From,
			To:          a.To,
			Occurrences: toDTOs(a.Schema(), a.Occurrences),
			Skipped:     a.Skipped,
			Truncated:   a.Truncated,
		}, http.StatusOK, nil
	})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	s.cached(w, r, func() (any, int, error) {
		q, status, err := s.parseQuery(r)
		if err != nil {
			return nil, status, err
		}
		res, err := s.store.Conflicts(q)
		if err != nil {
			return nil, statusFor(err), err
		}
		return map[string]any{"conflicts": res}, http.StatusOK, nil
	})
}

// handleNext returns the next occurrence of one source, or of every source
// when event is omitted.
//
// GET /api/next?calendar=&event=&from=&include_start=
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	s.cached(w, r, func() (any, int, error) {
		q := r.URL.Query()
		calID := q.Get("calendar")
		info, err := s.store.Calendar(calID)
		if err != nil {
			return nil, statusFor(err), err
		}
		from, err := s.optionalTime(info.ID, q.Get("from"))
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		includeStart := parseBool(q.Get("include_start"))

		source := q.Get("event")
		if source == "" {
			occs, err := s.store.Upcoming(info.ID, from, includeStart)
			if err != nil {
				return nil, statusFor(err), err
			}
			return map[string]any{"calendar": info.ID, "occurrences": toDTOs(info.Schema, occs)}, http.StatusOK, nil
		}

		occ, err := s.store.Next(info.ID, source, from, includeStart)
		if err != nil {
			return nil, statusFor(err), err
		}
		resp := map[string]any{"calendar": info.ID, "event": source, "occurrence": nil}
		if occ != nil {
			resp["occurrence"] = toDTOs(info.Schema, []model.Occurrence{*occ})[0]
		}
		return resp, http.StatusOK, nil
	})
}

type timeResponse struct {
	Calendar    string             `json:"calendar"`
	Current     calendar.Timestamp `json:"current"`
	CurrentText string             `json:"current_text"`
	Weekday     int                `json:"weekday"`
	Normalized  bool               `json:"normalized,omitempty"`
	CarriedDays int64              `json:"carried_days,omitempty"`
}

// timeRequest moves the cursor by Amount Unit, or jumps to Set
// ("YEAR/MONTH/DAY[ HH:MM]") when given.
type timeRequest struct {
	Calendar string `json:"calendar"`
	Amount   int64  `json:"amount"`
	Unit     string `json:"unit"`
	Set      string `json:"set,omitempty"`
}

// handleTime reads (GET) or moves (POST) a calendar's current time.
func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		info, err := s.store.Calendar(r.URL.Query().Get("calendar"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, timeResponse{
			Calendar:    info.ID,
			Current:     info.Current,
			CurrentText: info.CurrentText,
			Weekday:     info.Weekday,
		})
	case http.MethodPost:
		var req timeRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		s.moveTime(w, req)
	default:
		allowMethods(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) moveTime(w http.ResponseWriter, req timeRequest) {
	var resp timeResponse
	if strings.TrimSpace(req.Set) != "" {
		ts, err := s.store.ParseTime(req.Calendar, req.Set)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
		if _, err := s.store.SetCurrent(req.Calendar, ts); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	} else {
		unit, err := calendar.ParseUnit(strings.ToLower(strings.TrimSpace(req.Unit)))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := s.store.Advance(req.Calendar, req.Amount, unit)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp.Normalized = res.Normalized
		resp.CarriedDays = res.CarriedDays
	}

	info, err := s.store.Calendar(req.Calendar)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp.Calendar = info.ID
	resp.Current = info.Current
	resp.CurrentText = info.CurrentText
	resp.Weekday = info.Weekday
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if err := s.store.Reload(); err != nil {
		appLog.Error("api reload failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generation": s.store.Generation()})
}

// parseQuery reads the window parameters shared by occurrences and conflicts.
func (s *Server) parseQuery(r *http.Request) (agenda.Query, int, error) {
	q := r.URL.Query()
	out := agenda.Query{
		Calendar:     q.Get("calendar"),
		Days:         parseIntDefault(q.Get("days"), s.horizonDays()),
		Limit:        parseIntDefault(q.Get("limit"), 0),
		IncludeStart: parseBool(q.Get("include_start")),
	}
	if out.Days <= 0 {
		out.Days = s.horizonDays()
	}
	if out.Limit < 0 {
		out.Limit = 0
	}

	info, err := s.store.Calendar(out.Calendar)
	if err != nil {
		return out, statusFor(err), err
	}
	if out.From, err = s.optionalTime(info.ID, q.Get("from")); err != nil {
		return out, http.StatusBadRequest, err
	}
	if out.To, err = s.optionalTime(info.ID, q.Get("to")); err != nil {
		return out, http.StatusBadRequest, err
	}
	return out, http.StatusOK, nil
}

func (s *Server) optionalTime(calendarID, value string) (*calendar.Timestamp, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	ts, err := s.store.ParseTime(calendarID, value)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *Server) horizonDays() int {
	if s.cfg == nil || s.cfg.HorizonDays <= 0 {
		return 30
	}
	return s.cfg.HorizonDays
}

func (s *Server) cacheTTL() time.Duration {
	if s.cfg == nil {
		return 0
	}
	return time.Duration(s.cfg.CacheTTLSeconds) * time.Second
}

// cached serves a GET response from the cache when it is fresh and was
// built for the current store generation; otherwise compute runs and a
// successful result is stored.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, compute func() (any, int, error)) {
	key := r.URL.Path + "?" + r.URL.RawQuery
	gen := s.store.Generation()
	ttl := s.cacheTTL()

	if ttl > 0 {
		s.cacheMu.RLock()
		e, ok := s.cache[key]
		s.cacheMu.RUnlock()
		if ok && e.generation == gen && time.Since(e.updatedAt) < ttl {
			s.metrics.CacheHit()
			writeRaw(w, http.StatusOK, e.body)
			return
		}
		s.metrics.CacheMiss()
	}

	v, status, err := compute()
	if err != nil {
		if status >= http.StatusInternalServerError {
			appLog.Error("api request failed", err, "path", r.URL.Path)
		}
		writeError(w, status, err.Error())
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		appLog.Error("failed to encode JSON response", err)
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	body = append(body, '\n')

	if ttl > 0 {
		s.cacheMu.Lock()
		// Drop entries of older generations.
		for k, e := range s.cache {
			if e.generation != gen {
				delete(s.cache, k)
			}
		}
		s.cache[key] = cacheEntry{body: body, generation: gen, updatedAt: time.Now()}
		s.cacheMu.Unlock()
	}
	writeRaw(w, status, body)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, document.ErrUnknownCalendar), errors.Is(err, agenda.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrInvalidTimestamp), errors.Is(err, recurrence.ErrInvalidRule):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// Package handlers exposes the catalog and the playback session over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kptv-player/work/catalog"
	"kptv-player/work/classify"
	"kptv-player/work/config"
	"kptv-player/work/database"
	"kptv-player/work/logger"
	"kptv-player/work/middleware"
	"kptv-player/work/resolver"
	"kptv-player/work/session"
	"kptv-player/work/types"
)

const commandTimeout = 10 * time.Second

// Session is the part of the session controller the API drives
type Session interface {
	SelectItem(ctx context.Context, item *types.PlayableItem) error
	Retry(ctx context.Context) error
	ToggleOrigin(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

// FailureStore reads, clears and backs up the failure journal
type FailureStore interface {
	ListFailures(ctx context.Context, itemID string, limit int) ([]database.FailureRow, error)
	ClearFailures(ctx context.Context, itemID string) (int64, error)
	FailureCounts(ctx context.Context) (map[session.FailureReason]int, error)
	GetStats(ctx context.Context) (map[string]any, error)
	Backup(ctx context.Context, backupPath string) error
}

// Refresher re-imports the catalog on demand
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
	RefreshSource(ctx context.Context, name string) (int, error)
}

// API serves the control endpoints
type API struct {
	cfg       *config.Config
	catalog   *types.Catalog
	session   Session
	resolver  *resolver.Resolver
	failures  FailureStore
	refresher Refresher
	started   time.Time
}

// New builds the API. failures and refresher may be nil, their routes then answer 503.
func New(cfg *config.Config, items *types.Catalog, sess Session, res *resolver.Resolver, failures FailureStore, refresher Refresher) *API {
	if res == nil {
		res = resolver.New(cfg.UserAgent)
	}
	return &API{
		cfg:       cfg,
		catalog:   items,
		session:   sess,
		resolver:  res,
		failures:  failures,
		refresher: refresher,
		started:   time.Now(),
	}
}

// Router wires every route with CORS, basic auth and gzip
func (a *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.CORS, middleware.BasicAuth(a.cfg.APIUser, a.cfg.APIPasswordHash), middleware.Gzip)

	router.HandleFunc("/items", a.handleListItems).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/items/{id}", a.handleGetItem).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/catalog/refresh", a.handleRefresh).Methods(http.MethodPost, http.MethodOptions)

	router.HandleFunc("/session", a.handleSession).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/session/events", a.handleEvents).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/session/select/{id}", a.handleSelect).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/session/retry", a.command(a.session.Retry)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/session/toggle", a.command(a.session.ToggleOrigin)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/session/play", a.command(a.session.Play)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/session/pause", a.command(a.session.Pause)).Methods(http.MethodPost, http.MethodOptions)

	router.HandleFunc("/classify", a.handleClassify).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/failures", a.handleListFailures).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/failures/backup", a.handleBackup).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/failures/{id}", a.handleClearFailures).Methods(http.MethodDelete, http.MethodOptions)

	router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet, http.MethodOptions)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - writeJSON} Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps session and resolver errors to HTTP status codes
func statusFor(err error) int {
	var resErr *resolver.Error
	switch {
	case errors.As(err, &resErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNoItem),
		errors.Is(err, session.ErrRetryUnavailable),
		errors.Is(err, session.ErrNoAlternateOrigin),
		errors.Is(err, session.ErrNotPlaying):
		return http.StatusConflict
	case errors.Is(err, session.ErrDisposed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := types.ItemFilter{Kind: types.ItemKind(q.Get("kind")), Group: q.Get("group")}
	writeJSON(w, http.StatusOK, a.catalog.List(f, a.cfg.SortField, a.cfg.SortDirection))
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := a.catalog.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if a.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog import is not configured")
		return
	}
	var (
		n   int
		err error
	)
	if name := r.URL.Query().Get("source"); name != "" {
		n, err = a.refresher.RefreshSource(r.Context(), name)
	} else {
		n, err = a.refresher.Refresh(r.Context())
	}
	if errors.Is(err, catalog.ErrUnknownSource) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		logger.Error("{handlers/handlers - handleRefresh} Catalog refresh failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"items": n})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Snapshot())
}

// handleEvents streams snapshots as server-sent events until the client
// goes away or the session is disposed
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, cancel := a.session.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				logger.Error("{handlers/handlers - handleEvents} Failed to encode snapshot: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (a *API) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	item, ok := a.catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := a.session.SelectItem(ctx, item); err != nil {
		logger.Debug("{handlers/handlers - handleSelect} Select of %s failed: %v", id, err)
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "session": a.session.Snapshot()})
		return
	}
	writeJSON(w, http.StatusAccepted, a.session.Snapshot())
}

// command wraps a parameterless session command
func (a *API) command(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "session": a.session.Snapshot()})
			return
		}
		writeJSON(w, http.StatusAccepted, a.session.Snapshot())
	}
}

type classifyResponse struct {
	URL            string                  `json:"url"`
	Classification classify.Classification `json:"classification"`
	VideoID        string                  `json:"videoId,omitempty"`
	PlaylistID     string                  `json:"playlistId,omitempty"`
	Descriptor     *resolver.Descriptor    `json:"descriptor,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// handleClassify previews how a URL would be classified and resolved.
// An optional proxy parameter stands in for the item's proxy URL.
func (a *API) handleClassify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	resp := classifyResponse{URL: raw, Classification: classify.Classify(raw)}
	resp.VideoID, _ = classify.ExtractVideoID(raw)
	resp.PlaylistID, _ = classify.ExtractPlaylistID(raw)

	item := &types.PlayableItem{PrimaryURL: raw, ProxyURL: q.Get("proxy")}
	d, err := a.resolver.Resolve(item, a.cfg.ProxyEnabled && item.HasProxy())
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Descriptor = &d
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListFailures(w http.ResponseWriter, r *http.Request) {
	if a.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure journal is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := a.failures.ListFailures(r.Context(), r.URL.Query().Get("item"), limit)
	if err != nil {
		logger.Error("{handlers/handlers - handleListFailures} %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read failure journal")
		return
	}
	if rows == nil {
		rows = []database.FailureRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleClearFailures(w http.ResponseWriter, r *http.Request) {
	if a.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure journal is not configured")
		return
	}
	n, err := a.failures.ClearFailures(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		logger.Error("{handlers/handlers - handleClearFailures} %v", err)
		writeError(w, http.StatusInternalServerError, "failed to clear failure journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleBackup writes a copy of the journal next to the database file
func (a *API) handleBackup(w http.ResponseWriter, r *http.Request) {
	if a.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure journal is not configured")
		return
	}
	name := fmt.Sprintf("player-%s.db", time.Now().Format("20060102-150405"))
	backupPath := filepath.Join(filepath.Dir(a.cfg.DatabasePath), "backups", name)
	if err := a.failures.Backup(r.Context(), backupPath); err != nil {
		logger.Error("{handlers/handlers - handleBackup} %v", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": backupPath})
}

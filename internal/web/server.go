package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dragonfarm/farmd/internal/chef"
	"github.com/dragonfarm/farmd/internal/logger"
	"github.com/dragonfarm/farmd/internal/nest"
	"github.com/dragonfarm/farmd/internal/state"
	"github.com/dragonfarm/farmd/internal/types"
	"github.com/dragonfarm/farmd/internal/utils"
	"github.com/dragonfarm/farmd/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the ledger's read-only query surface over HTTP.
// Mutations happen through the Go API only.
type WebServer struct {
	router   *mux.Router
	port     string
	engine   *chef.Chef
	nest     *nest.Nest
	vaults   *vault.Registry
	journal  *state.MemJournal // optional; /api/events 404s without it
	decimals int               // display decimals applied to amount fields
}

// NewWebServer creates a web server over the given aggregates.
func NewWebServer(port string, engine *chef.Chef, n *nest.Nest, vaults *vault.Registry, journal *state.MemJournal, decimals int) *WebServer {
	if port == "" {
		port = "8080"
	}
	if decimals < 0 || decimals > 18 {
		decimals = 0
	}
	server := &WebServer{
		router:   mux.NewRouter(),
		port:     port,
		engine:   engine,
		nest:     n,
		vaults:   vaults,
		journal:  journal,
		decimals: decimals,
	}
	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{id}", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{id}/fees", ws.handleGetPoolFees).Methods("GET")
	api.HandleFunc("/pools/{id}/stakes/{account}", ws.handleGetStake).Methods("GET")
	api.HandleFunc("/pools/{id}/pending/{account}", ws.handleGetPending).Methods("GET")
	api.HandleFunc("/nest/stakes/{token}", ws.handleGetUtilityStake).Methods("GET")
	api.HandleFunc("/vaults", ws.handleGetVaults).Methods("GET")
	api.HandleFunc("/vaults/{id}/shares/{account}", ws.handleGetVaultShares).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// ServeHTTP lets the server act as a plain http.Handler.
func (ws *WebServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws.router.ServeHTTP(w, r)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
		},
		"engine": map[string]interface{}{
			"pools":          ws.engine.PoolLength(),
			"vault_pools":    ws.vaults.PoolLength(),
			"emission_rate":  ws.engine.EmissionRate().String(),
			"utility_weight": ws.nest.TotalWeight().String(),
		},
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pools": ws.engine.Pools(),
	})
}

func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolID(w, r)
	if !ok {
		return
	}
	pool, err := ws.engine.PoolInfo(id)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, pool)
}

func (ws *WebServer) handleGetPoolFees(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolID(w, r)
	if !ok {
		return
	}
	ledger, err := ws.nest.FeeLedger(id)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, ledger)
}

func (ws *WebServer) handleGetStake(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolID(w, r)
	if !ok {
		return
	}
	account := types.Account(mux.Vars(r)["account"])
	stake, err := ws.engine.StakeOf(id, account)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, stake)
}

func (ws *WebServer) handleGetPending(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolID(w, r)
	if !ok {
		return
	}
	account := types.Account(mux.Vars(r)["account"])
	pending, err := ws.engine.PendingReward(id, account)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	response := map[string]interface{}{
		"pool":    id,
		"account": account,
		"pending": pending.String(),
	}
	if display, err := utils.FormatUnits(pending, ws.decimals); err == nil {
		response["pending_display"] = display
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetUtilityStake(w http.ResponseWriter, r *http.Request) {
	tokenRaw := mux.Vars(r)["token"]
	tokenID, err := strconv.ParseUint(tokenRaw, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid token id")
		return
	}
	stake, err := ws.nest.StakeInfo(types.TokenID(tokenID))
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	entitlement, err := ws.nest.Entitlement(types.TokenID(tokenID))
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	pending := make(map[string]string, len(entitlement))
	for poolID, amount := range entitlement {
		pending[strconv.FormatUint(uint64(poolID), 10)] = amount.String()
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"stake":       stake,
		"entitlement": pending,
	})
}

func (ws *WebServer) handleGetVaults(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"vaults": ws.vaults.Pools(),
	})
}

func (ws *WebServer) handleGetVaultShares(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.poolID(w, r)
	if !ok {
		return
	}
	account := types.Account(mux.Vars(r)["account"])
	shares, err := ws.vaults.UserShares(id, account)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	staked, err := ws.vaults.StakedWantTokens(id, account)
	if err != nil {
		ws.writeLookupError(w, err)
		return
	}
	response := map[string]interface{}{
		"pool":    id,
		"account": account,
		"shares":  shares.String(),
		"staked":  staked.String(),
	}
	if display, err := utils.FormatUnits(staked, ws.decimals); err == nil {
		response["staked_display"] = display
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if ws.journal == nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Event journal not configured")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": ws.journal.Recent(limit),
	})
}

// poolID parses the {id} route variable, answering 400 on garbage.
func (ws *WebServer) poolID(w http.ResponseWriter, r *http.Request) (types.PoolID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid pool id")
		return 0, false
	}
	return types.PoolID(id), true
}

// writeLookupError maps ledger lookup failures onto HTTP statuses.
func (ws *WebServer) writeLookupError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, types.ErrPoolNotFound) || errors.Is(err, types.ErrNotStaked) {
		status = http.StatusNotFound
	}
	ws.writeErrorResponse(w, status, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/escrow"
	"github.com/amx/backend/internal/events"
	"github.com/amx/backend/internal/ledger"
	"github.com/amx/backend/internal/reputation"
	"github.com/amx/backend/internal/runtime"
	"github.com/amx/backend/internal/signals"
	"github.com/amx/backend/internal/staking"
)

// APIServer exposes the staking, reputation and escrow managers via
// REST/JSON.
type APIServer struct {
	staking    *staking.Manager
	reputation *reputation.Aggregator
	escrow     *escrow.Manager
	deliverer  *signals.Deliverer
	bus        *events.EventBus
	audit      *ledger.Ledger
	arbiterKey []byte // bcrypt hash, empty disables auth
	logger     *log.Logger
}

func NewAPIServer(stk *staking.Manager, rep *reputation.Aggregator, esc *escrow.Manager, del *signals.Deliverer, bus *events.EventBus, audit *ledger.Ledger, arbiterKeyHash []byte) *APIServer {
	return &APIServer{
		staking:    stk,
		reputation: rep,
		escrow:     esc,
		deliverer:  del,
		bus:        bus,
		audit:      audit,
		arbiterKey: arbiterKeyHash,
		logger:     log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table. Exposed separately from Start so
// tests can drive it with httptest.
func (s *APIServer) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Logging middleware
	r.Use(s.loggingMiddleware)

	// --- Staking ---
	r.HandleFunc("/api/stake/{owner}", s.handleStake).Methods("POST")
	r.HandleFunc("/api/stake/{owner}/unstake", s.handleUnstake).Methods("POST")
	r.HandleFunc("/api/stake/{owner}/consume", s.handleConsume).Methods("POST")
	r.HandleFunc("/api/stake/{owner}", s.handleGetStake).Methods("GET")

	// --- Reputation ---
	r.HandleFunc("/api/reputation/{identity}", s.handleGetReputation).Methods("GET")
	r.HandleFunc("/api/reputation/{identity}/components", s.handleComponentUpdate).Methods("POST")

	// --- Escrow ---
	r.HandleFunc("/api/escrow", s.handleCreateEscrow).Methods("POST")
	r.HandleFunc("/api/escrow/{id}", s.handleGetEscrow).Methods("GET")
	r.HandleFunc("/api/escrow/{id}/fund", s.handleFund).Methods("POST")
	r.HandleFunc("/api/escrow/{id}/approve", s.handleApprove).Methods("POST")
	r.HandleFunc("/api/escrow/{id}/cancel", s.handleCancel).Methods("POST")
	r.HandleFunc("/api/escrow/{id}/dispute", s.handleDispute).Methods("POST")
	r.HandleFunc("/api/escrow/{id}/resolve", s.requireArbiterKey(s.handleResolve)).Methods("POST")
	r.HandleFunc("/api/escrow/{id}/expire", s.handleExpire).Methods("POST")

	// --- Signals (Cloud Tasks push target) ---
	r.HandleFunc("/api/signals/ingest", s.handleSignalIngest).Methods("POST")

	// --- Audit ---
	r.HandleFunc("/api/audit/root", s.handleAuditRoot).Methods("GET")

	// --- Infra ---
	r.HandleFunc("/events/stream", s.handleEventStream).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	return r
}

func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			time.Since(start).Milliseconds(),
		)
	})
}

func (s *APIServer) Start(port string) error {
	addr := fmt.Sprintf(":%s", port)
	s.logger.Printf("listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrDeadlineNotReached),
		errors.Is(err, staking.ErrLockupActive):
		status = http.StatusConflict
	case errors.Is(err, staking.ErrQuotaExhausted):
		status = http.StatusTooManyRequests
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidSplit),
		errors.Is(err, escrow.ErrDisputeReasonTooLong),
		errors.Is(err, escrow.ErrResolutionNotesTooLong),
		errors.Is(err, escrow.ErrProviderScoreTooLow),
		errors.Is(err, staking.ErrInsufficientStake),
		errors.Is(err, reputation.ErrInvalidComponentValue),
		errors.Is(err, reputation.ErrUnknownComponent):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleAuditRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root":    s.audit.Root(),
		"entries": s.audit.Len(),
	})
}

// handleEventStream pushes marketplace events to the client as Server-Sent
// Events until the connection drops.
func (s *APIServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			frame, err := ev.SSEFormat()
			if err != nil {
				continue
			}
			w.Write(frame)
			flusher.Flush()
		}
	}
}

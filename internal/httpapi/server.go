package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"orca/internal/broker"
	"orca/internal/domain"
	"orca/internal/engine"
	"orca/internal/marketfeed"
	"orca/internal/store"
)

// Store is the read surface the API serves directly; writes go through the
// engine so they are evaluated and audited.
type Store interface {
	store.TradeStore
	store.RuleStore
	store.AuditStore
}

// Server serves the trade pipeline REST API.
type Server struct {
	engine   *engine.Engine
	provider broker.Provider
	store    Store
	hub      *marketfeed.Hub
	log      *slog.Logger
}

// NewServer creates a Server wired with the given dependencies. hub may be
// nil to disable the WebSocket endpoint.
func NewServer(eng *engine.Engine, provider broker.Provider, s Store, hub *marketfeed.Hub, log *slog.Logger) *Server {
	return &Server{
		engine:   eng,
		provider: provider,
		store:    s,
		hub:      hub,
		log:      log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("POST /api/positions/{id}/close", s.handleClosePosition)
	mux.HandleFunc("GET /api/options/chain/{symbol}", s.handleOptionChain)
	mux.HandleFunc("POST /api/trades/validate", s.handleValidateTrade)
	mux.HandleFunc("POST /api/trades/submit", s.handleSubmitTrade)
	mux.HandleFunc("POST /api/trades/{id}/cancel", s.handleCancelTrade)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/rules", s.handleGetRules)
	mux.HandleFunc("POST /api/rules", s.handleUpdateRules)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/broker/status", s.handleBrokerStatus)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.provider.GetAccount(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, acct)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.provider.GetPositions(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, positions)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.engine.ClosePosition(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, pos)
}

func (s *Server) handleOptionChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.provider.GetOptionChain(r.Context(), r.PathValue("symbol"), r.URL.Query().Get("expiration"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, chain)
}

func (s *Server) handleValidateTrade(w http.ResponseWriter, r *http.Request) {
	proposal, ok := s.decodeProposal(w, r)
	if !ok {
		return
	}
	outcome, err := s.engine.Validate(r.Context(), proposal)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, outcomeJSON(outcome))
}

func (s *Server) handleSubmitTrade(w http.ResponseWriter, r *http.Request) {
	proposal, ok := s.decodeProposal(w, r)
	if !ok {
		return
	}
	trade, outcome, err := s.engine.Submit(r.Context(), proposal)
	if err != nil && trade == nil {
		s.writeDomainError(w, err)
		return
	}
	resp := SubmitResponse{Trade: trade, Outcome: outcomeJSON(outcome)}
	switch {
	case err != nil:
		// Placement failed; the trade is persisted as rejected.
		writeJSONStatus(w, http.StatusBadGateway, resp)
	case !outcome.Passed:
		writeJSONStatus(w, http.StatusUnprocessableEntity, resp)
	default:
		writeJSONStatus(w, http.StatusCreated, resp)
	}
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.engine.Cancel(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, trade)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.GetTrades(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, trades)
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ActiveRiskRules(r.Context())
	if err != nil && !errors.Is(err, domain.ErrNoActiveRules) {
		s.writeDomainError(w, err)
		return
	}
	history, err := s.store.GetRiskRules(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, RulesResponse{Active: active, History: history})
}

func (s *Server) handleUpdateRules(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	rules := &domain.RiskRules{
		Name:            req.Name,
		MinCredit:       req.MinCredit,
		MaxLossPerTrade: req.MaxLossPerTrade,
		MinOpenInterest: req.MinOpenInterest,
		DeltaCapAbs:     req.DeltaCapAbs,
		LeverageCap:     req.LeverageCap,
	}
	created, err := s.engine.UpdateRules(r.Context(), rules, actor(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var (
		entries []domain.AuditLogEntry
		err     error
	)
	if tradeID := r.URL.Query().Get("tradeId"); tradeID != "" {
		entries, err = s.store.AuditLogsForTrade(r.Context(), tradeID)
	} else {
		entries, err = s.store.AuditLogs(r.Context())
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleBrokerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.provider.Status())
}

// decodeProposal parses the request body into a domain proposal. It writes
// the error response itself and reports success via the bool.
func (s *Server) decodeProposal(w http.ResponseWriter, r *http.Request) (domain.SpreadConfig, bool) {
	var req ProposalJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return domain.SpreadConfig{}, false
	}
	proposal, err := req.ToDomain()
	if err != nil {
		s.writeDomainError(w, err)
		return domain.SpreadConfig{}, false
	}
	return proposal, true
}

// writeDomainError maps pipeline errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var malformed *domain.MalformedProposalError
	var provider *domain.ProviderError
	switch {
	case errors.As(err, &malformed):
		writeError(w, http.StatusBadRequest, malformed.Error())
	case errors.Is(err, domain.ErrTradeNotFound), errors.Is(err, domain.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoActiveRules):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &provider):
		writeError(w, http.StatusBadGateway, provider.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actor identifies the requesting user for audit entries.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "trader"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"shadeledger/core"
	"shadeledger/core/lederr"
	"shadeledger/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	rateLimit      = rate.Limit(20)
	rateLimitBurst = 40
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	// Ledger failures map below this base so clients can recover the stable
	// taxonomy code as codeLedgerBase - code.
	codeLedgerBase = -32100
)

// Server exposes the ledger operations over JSON-RPC 2.0.
type Server struct {
	ledger    *core.Ledger
	logger    *slog.Logger
	authToken string
	handlers  map[string]method

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer constructs a server around the ledger. The bearer token guarding
// mutating methods comes from SHADE_RPC_TOKEN; when empty, mutating methods
// are open (local development).
func NewServer(ledger *core.Ledger, logger *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("SHADE_RPC_TOKEN"))
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:    ledger,
		logger:    logger,
		authToken: token,
		limiters:  make(map[string]*rate.Limiter),
	}
	s.handlers = s.methods()
	return s
}

// Router builds the HTTP routing table: JSON-RPC on /, liveness on /healthz
// and prometheus metrics on /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router on addr and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeLedgerError surfaces the stable taxonomy code of a failed call so
// clients can branch on the specific kind, not a generic denial.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	var bad *paramError
	if errors.As(err, &bad) {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, bad.Error(), nil)
		return
	}
	if code, ok := lederr.CodeOf(err); ok {
		writeError(w, http.StatusOK, id, codeLedgerBase-int(code), err.Error(), map[string]interface{}{
			"ledgerCode": uint32(code),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) limiter(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rateLimit, rateLimitBurst)
		s.limiters[source] = limiter
	}
	return limiter
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) == 1
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.limiter(clientIP(r)).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "unable to read request body", nil)
		return
	}
	if int64(len(body)) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", nil)
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", nil)
		return
	}
	if handler.mutating && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid bearer token", nil)
		return
	}

	started := time.Now()
	result, err := handler.fn(&req)
	metrics := observability.Metrics()
	metrics.Latency.WithLabelValues(req.Method).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.Requests.WithLabelValues(req.Method, "error").Inc()
		s.logger.Info("rpc call failed", slog.String("method", req.Method), slog.Any("error", err))
		writeLedgerError(w, req.ID, err)
		return
	}
	metrics.Requests.WithLabelValues(req.Method, "ok").Inc()
	writeResult(w, req.ID, result)
}

type method struct {
	mutating bool
	fn       func(*RPCRequest) (interface{}, error)
}

// methods builds the dispatch table. Called once at construction.
func (s *Server) methods() map[string]method {
	return map[string]method{
		"shade_initialize":       {mutating: true, fn: s.handleInitialize},
		"shade_grantRole":        {mutating: true, fn: s.handleGrantRole},
		"shade_revokeRole":       {mutating: true, fn: s.handleRevokeRole},
		"shade_hasPrivilege":     {fn: s.handleHasPrivilege},
		"shade_registerMerchant": {mutating: true, fn: s.handleRegisterMerchant},
		"shade_getMerchant":      {fn: s.handleGetMerchant},
		"shade_isMerchant":       {fn: s.handleIsMerchant},
		"shade_createInvoice":    {mutating: true, fn: s.handleCreateInvoice},
		"shade_getInvoice":       {fn: s.handleGetInvoice},
		"shade_payInvoice":       {mutating: true, fn: s.handlePayInvoice},
		"shade_tryPayInvoice":    {mutating: true, fn: s.handleTryPayInvoice},
		"shade_cancelInvoice":    {mutating: true, fn: s.handleCancelInvoice},
		"shade_addAcceptedToken": {mutating: true, fn: s.handleAddAcceptedToken},
		"shade_setFee":           {mutating: true, fn: s.handleSetFee},
		"shade_getFee":           {fn: s.handleGetFee},
		"shade_pause":            {mutating: true, fn: s.handlePause},
		"shade_unpause":          {mutating: true, fn: s.handleUnpause},
		"shade_paused":           {fn: s.handlePaused},
		"shade_mint":             {mutating: true, fn: s.handleMint},
		"shade_balance":          {fn: s.handleBalance},
	}
}

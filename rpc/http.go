package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"defidirect/core"
	"defidirect/native/direct"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeModuleError    = -32030
)

type Server struct {
	node      *core.Node
	log       *slog.Logger
	authToken string
	handlers  map[string]handlerFunc
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func NewServer(node *core.Node, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		node:      node,
		log:       log,
		authToken: strings.TrimSpace(os.Getenv("DIRECT_RPC_TOKEN")),
	}
	s.handlers = map[string]handlerFunc{
		"direct_initialize":            s.handleInitialize,
		"direct_updateSpreadFee":       s.handleUpdateSpreadFee,
		"direct_setFeeReceiver":        s.handleSetFeeReceiver,
		"direct_setVaultAddress":       s.handleSetVaultAddress,
		"direct_setTransactionManager": s.handleSetTransactionManager,
		"direct_pause":                 s.handlePause,
		"direct_unpause":               s.handleUnpause,
		"direct_addSupportedToken":     s.handleAddSupportedToken,
		"direct_removeSupportedToken":  s.handleRemoveSupportedToken,
		"direct_initiate":              s.handleInitiate,
		"direct_complete":              s.handleComplete,
		"direct_refund":                s.handleRefund,
		"direct_getTransaction":        s.handleGetTransaction,
		"direct_getTransactionIds":     s.handleGetTransactionIDs,
		"direct_listTransactions":      s.handleListTransactions,
		"direct_getSettings":           s.handleGetSettings,
		"direct_isTokenSupported":      s.handleIsTokenSupported,
		"direct_escrowBalance":         s.handleEscrowBalance,
		"direct_events":                s.handleEvents,
		"token_mint":                   s.handleTokenMint,
		"token_balanceOf":              s.handleTokenBalanceOf,
	}
	return s
}

// Router exposes the HTTP surface: JSON-RPC on POST /, health and metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
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

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "read request", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc must be 2.0")
		return
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return
	}
	handler(w, r, &req)
}

// requireAuth enforces the bearer token on mutating methods when one is
// configured.
func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
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

// writeModuleError maps settlement module failures onto the wire, carrying
// the module error code in the error data.
func writeModuleError(w http.ResponseWriter, id interface{}, err error) {
	if code, ok := direct.Code(err); ok {
		writeError(w, http.StatusOK, id, codeModuleError, "module_error", map[string]interface{}{
			"code":    code,
			"message": err.Error(),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
}

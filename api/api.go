package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mezonai/stakepool/errors"
	"github.com/mezonai/stakepool/exception"
	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/jsonx"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/monitoring"
)

// APIServer is the read-only REST view of the pool. Writes go through
// JSON-RPC only.
type APIServer struct {
	svc        interfaces.StakingService
	health     interfaces.HealthService
	listenAddr string
	router     *mux.Router
	httpServer *http.Server
}

func NewAPIServer(svc interfaces.StakingService, health interfaces.HealthService, addr string) *APIServer {
	s := &APIServer{
		svc:        svc,
		health:     health,
		listenAddr: addr,
		router:     mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/pool", s.getPool).Methods(http.MethodGet)
	s.router.HandleFunc("/users/{owner}", s.getUser).Methods(http.MethodGet)
	s.router.HandleFunc("/balances/{owner}", s.getBalance).Methods(http.MethodGet)
	s.router.HandleFunc("/tx/{hash}", s.getTx).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", monitoring.Handler()).Methods(http.MethodGet)
}

// Router returns the configured router
func (s *APIServer) Router() *mux.Router {
	return s.router
}

func (s *APIServer) Start() {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	exception.SafeGoWithPanic("APIServer", func() {
		logx.Info("API", "Listening on", s.listenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("API", "Server stopped:", err)
		}
	})
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *APIServer) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.svc.GetPool(r.Context())
	s.respond(w, pool, err)
}

func (s *APIServer) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.GetUser(r.Context(), mux.Vars(r)["owner"])
	s.respond(w, user, err)
}

func (s *APIServer) getBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.svc.GetBalance(r.Context(), mux.Vars(r)["owner"])
	s.respond(w, bal, err)
}

func (s *APIServer) getTx(w http.ResponseWriter, r *http.Request) {
	meta, err := s.svc.GetTxStatus(r.Context(), mux.Vars(r)["hash"])
	s.respond(w, meta, err)
}

func (s *APIServer) getHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.health.Check(r.Context())
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	code := http.StatusOK
	if status.Status != interfaces.HealthServing {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *APIServer) respond(w http.ResponseWriter, body interface{}, err error) {
	if err != nil {
		ne := errors.FromError(err)
		writeJSON(w, statusFor(ne), ne)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func statusFor(ne *errors.NetworkError) int {
	switch ne.Code {
	case errors.ErrCodeAccountNotFound, errors.ErrCodeTransactionNotFound, errors.ErrCodeNotInitialized:
		return http.StatusNotFound
	case errors.ErrCodeInvalidAddress, errors.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	}
	if ne.Class == errors.ClassSystem {
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := jsonx.NewEncoder(w).Encode(body); err != nil {
		logx.Warn("API", "Failed to write response:", err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chainfetch/internal/coordinator"
	"chainfetch/internal/logx"
	"chainfetch/internal/provider"
)

// fetcher is the part of the coordinator the handlers use.
type fetcher interface {
	Fetch(ctx context.Context, req provider.Request, timeout time.Duration) (coordinator.Response, error)
	Invalidate(ctx context.Context, scope string) int
	Chains() []string
}

type server struct {
	co  fetcher
	log logx.Logger
	// maxWait bounds how long a handler waits for a result; 0 leaves it to
	// the chain timeout.
	maxWait time.Duration
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/nft/{chain}/{contract}/{tokenId}", s.nft).Methods(http.MethodGet)
	api.HandleFunc("/balances/{chain}/{address}", s.balances).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{chain}/{address}", s.contract).Methods(http.MethodGet)
	api.HandleFunc("/cache/{scope}", s.invalidate).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "chains": s.co.Chains()})
}

func (s *server) nft(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	s.serve(w, r, provider.NFTMetadata(v["chain"], v["contract"], v["tokenId"]))
}

func (s *server) balances(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	s.serve(w, r, provider.TokenBalances(v["chain"], v["address"]))
}

func (s *server) contract(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	s.serve(w, r, provider.ContractMetadata(v["chain"], v["address"]))
}

func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]
	n := s.co.Invalidate(r.Context(), scope)
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "removed": n})
}

// serve runs one fetch. ?fresh=1 drops the cached entry first and
// ?timeout_ms overrides the chain's wait bound.
func (s *server) serve(w http.ResponseWriter, r *http.Request, req provider.Request) {
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	var timeout time.Duration
	if raw := q.Get("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			writeError(w, http.StatusBadRequest, "timeout_ms must be a positive integer")
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	ctx := r.Context()
	if s.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxWait)
		defer cancel()
	}

	if fresh, _ := strconv.ParseBool(q.Get("fresh")); fresh {
		s.co.Invalidate(ctx, req.Fingerprint().String())
	}

	resp, err := s.co.Fetch(ctx, req, timeout)
	if err != nil {
		code := statusOf(err)
		if code >= http.StatusInternalServerError {
			s.log.Warn("fetch failed", logx.Fields{"fingerprint": req.Fingerprint().String(), "error": err})
		}
		writeError(w, code, err.Error())
		return
	}

	w.Header().Set("X-Data-Source", string(resp.Source))
	if resp.Provider != "" {
		w.Header().Set("X-Data-Provider", resp.Provider)
	}
	writeJSON(w, http.StatusOK, resp.Envelope())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, provider.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, coordinator.ErrUnknownChain):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

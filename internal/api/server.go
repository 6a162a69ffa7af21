// Package api serves a read-only view of the multisig, its proposals and
// the local submission journal over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vaultctl/internal/journal"
	"vaultctl/internal/ledger"
	"vaultctl/internal/squads"
)

// State is the on-chain view the server publishes.
type State interface {
	Multisig() solana.PublicKey
	Vault() (solana.PublicKey, error)
	ReadMultisig(ctx context.Context) (*squads.Multisig, error)
	ReadProposal(ctx context.Context, index uint64) (*squads.Proposal, error)
	VaultBalance(ctx context.Context) (uint64, error)
}

// History is the local journal.
type History interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
	ForIndex(ctx context.Context, multisig string, index uint64) ([]journal.Entry, error)
}

type Server struct {
	state    State
	history  History
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

// NewServer builds a server. history and gatherer may be nil, which
// disables their endpoints.
func NewServer(state State, history History, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{state: state, history: history, gatherer: gatherer, log: log}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/multisig", s.MultisigHandler).Methods("GET")
	router.HandleFunc("/proposals/{index:[0-9]+}", s.ProposalHandler).Methods("GET")
	if s.history != nil {
		router.HandleFunc("/journal", s.JournalHandler).Methods("GET")
	}
	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return router
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

type memberView struct {
	Key         string `json:"key"`
	Permissions uint8  `json:"permissions"`
}

func (s *Server) MultisigHandler(w http.ResponseWriter, r *http.Request) {
	ms, err := s.state.ReadMultisig(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	vault, err := s.state.Vault()
	if err != nil {
		s.fail(w, err)
		return
	}
	lamports, err := s.state.VaultBalance(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	members := make([]memberView, len(ms.Members))
	for i, m := range ms.Members {
		members[i] = memberView{Key: m.Key.String(), Permissions: m.Permissions}
	}
	writeJSON(w, map[string]interface{}{
		"address":                 ms.Address.String(),
		"vault":                   vault.String(),
		"vault_balance_lamports":  lamports,
		"vault_balance_sol":       ledger.LamportsToSOL(lamports).String(),
		"threshold":               ms.Threshold,
		"time_lock":               ms.TimeLock,
		"transaction_index":       ms.TransactionIndex,
		"stale_transaction_index": ms.StaleTransactionIndex,
		"members":                 members,
	})
}

func (s *Server) ProposalHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}
	p, err := s.state.ReadProposal(r.Context(), index)
	if err != nil {
		s.fail(w, err)
		return
	}
	response := map[string]interface{}{
		"transaction_index": p.TransactionIndex,
		"status":            p.Status.String(),
		"timestamp":         p.Timestamp,
		"approved":          keyStrings(p.Approved),
		"rejected":          keyStrings(p.Rejected),
		"cancelled":         keyStrings(p.Cancelled),
	}
	if s.history != nil {
		entries, err := s.history.ForIndex(r.Context(), s.state.Multisig().String(), index)
		if err != nil {
			s.fail(w, err)
			return
		}
		response["submissions"] = entryViews(entries)
	}
	writeJSON(w, response)
}

func (s *Server) JournalHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"entries": entryViews(entries)})
}

type entryView struct {
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	Index      uint64    `json:"index"`
	Signature  string    `json:"signature,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms"`
}

func entryViews(entries []journal.Entry) []entryView {
	out := make([]entryView, len(entries))
	for i, e := range entries {
		out[i] = entryView{
			ID:         e.ID,
			Op:         e.Op,
			Index:      e.Index,
			Signature:  e.Signature,
			Kind:       e.Kind,
			Error:      e.Error,
			At:         e.At,
			DurationMS: e.Duration.Milliseconds(),
		}
	}
	return out
}

func keyStrings(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	s.log.Warn("status request failed", zap.Error(err))
	http.Error(w, "Upstream failure", http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/escrow"
	"github.com/amx/backend/internal/reputation"
	"github.com/amx/backend/internal/runtime"
)

// --- Staking ---

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *APIServer) handleStake(w http.ResponseWriter, r *http.Request) {
	owner := core.AgentID(mux.Vars(r)["owner"])

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	acct, err := s.staking.Stake(r.Context(), owner, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *APIServer) handleUnstake(w http.ResponseWriter, r *http.Request) {
	owner := core.AgentID(mux.Vars(r)["owner"])

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	acct, err := s.staking.Unstake(r.Context(), owner, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *APIServer) handleConsume(w http.ResponseWriter, r *http.Request) {
	owner := core.AgentID(mux.Vars(r)["owner"])

	acct, err := s.staking.ConsumeAPICall(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *APIServer) handleGetStake(w http.ResponseWriter, r *http.Request) {
	owner := core.AgentID(mux.Vars(r)["owner"])

	acct, err := s.staking.Get(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":      acct,
		"tier":         acct.Tier.String(),
		"voting_power": acct.VotingPower(),
	})
}

// --- Reputation ---

func (s *APIServer) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	identity := core.AgentID(mux.Vars(r)["identity"])

	rec, err := s.reputation.Get(r.Context(), identity)
	if err == runtime.ErrNotFound {
		// Unknown identities read as unscored novices.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"identity":        string(identity),
			"composite_score": 0,
			"tier_label":      string(reputation.LabelNovice),
			"history":         []interface{}{},
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *APIServer) handleComponentUpdate(w http.ResponseWriter, r *http.Request) {
	identity := core.AgentID(mux.Vars(r)["identity"])

	var req struct {
		Component string  `json:"component"`
		Value     float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	rec, err := s.reputation.ApplyComponentUpdate(r.Context(), identity, reputation.Component(req.Component), req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Escrow ---

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *APIServer) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client   string `json:"client"`
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Client == "" || req.Provider == "" {
		http.Error(w, `{"error":"client and provider are required"}`, http.StatusBadRequest)
		return
	}

	acct, err := s.escrow.Create(r.Context(), core.AgentID(req.Client), core.AgentID(req.Provider))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *APIServer) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	acct, err := s.escrow.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *APIServer) handleFund(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	acct, err := s.escrow.Fund(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *APIServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	acct, settlement, err := s.escrow.Approve(r.Context(), mux.Vars(r)["id"], core.AgentID(req.Caller))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    acct,
		"settlement": settlement,
	})
}

func (s *APIServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	acct, settlement, err := s.escrow.Cancel(r.Context(), mux.Vars(r)["id"], core.AgentID(req.Caller))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    acct,
		"settlement": settlement,
	})
}

func (s *APIServer) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	acct, err := s.escrow.Dispute(r.Context(), mux.Vars(r)["id"], core.AgentID(req.Caller), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *APIServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Arbiter     string `json:"arbiter"`
		ClientBps   uint32 `json:"client_bps"`
		ProviderBps uint32 `json:"provider_bps"`
		Notes       string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	split := escrow.RefundSplit{ClientBps: req.ClientBps, ProviderBps: req.ProviderBps}
	acct, settlement, err := s.escrow.Resolve(r.Context(), mux.Vars(r)["id"], core.AgentID(req.Arbiter), split, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    acct,
		"settlement": settlement,
	})
}

func (s *APIServer) handleExpire(w http.ResponseWriter, r *http.Request) {
	acct, settlement, err := s.escrow.Expire(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    acct,
		"settlement": settlement,
	})
}

// --- Signals ---

// handleSignalIngest is the push target for Cloud Tasks deliveries. The
// body is the JSON signal produced by the settlement core; the deliverer
// dedupes replays.
func (s *APIServer) handleSignalIngest(w http.ResponseWriter, r *http.Request) {
	var sig core.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, `{"error":"invalid signal payload"}`, http.StatusBadRequest)
		return
	}
	if sig.SourceEscrowID == "" || sig.Type == "" {
		http.Error(w, `{"error":"signal missing source escrow or type"}`, http.StatusBadRequest)
		return
	}

	if err := s.deliverer.Deliver(r.Context(), sig); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/teampool/internal/domain"
	"github.com/punchamoorthee/teampool/internal/models"
	"github.com/punchamoorthee/teampool/internal/service"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(body []byte) operation {
		return func() (int, interface{}, error) {
			var req models.CreatePoolRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return 0, nil, badRequest("Invalid JSON")
			}
			price, err := h.amounts.ToMinor(req.Price)
			if err != nil {
				return 0, nil, unprocessable(err.Error())
			}
			privacy := domain.Privacy(strings.ToLower(req.Privacy))
			if privacy == "" {
				privacy = domain.PrivacyPublic
			}

			pool, vault, err := h.svc.CreatePool(r.Context(), service.CreatePoolRequest{
				Creator:    CallerFrom(r.Context()),
				MaxMembers: req.MaxMembers,
				Price:      price,
				Privacy:    privacy,
				PoolCode:   req.PoolCode,
			})
			if err != nil {
				return 0, nil, err
			}
			w.Header().Set("Location", "/api/v1/pools/"+pool.ID)
			return http.StatusCreated, models.PoolResponse{Pool: h.amounts.Pool(pool), Vault: h.amounts.Vault(vault)}, nil
		}
	})
}

func (h *Handler) JoinPool(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]
	h.mutate(w, r, func(body []byte) operation {
		return func() (int, interface{}, error) {
			var req models.JoinPoolRequest
			if len(body) > 0 {
				if err := json.Unmarshal(body, &req); err != nil {
					return 0, nil, badRequest("Invalid JSON")
				}
			}
			pool, vault, err := h.svc.JoinPool(r.Context(), poolID, CallerFrom(r.Context()), req.PoolCode)
			if err != nil {
				return 0, nil, err
			}
			return http.StatusOK, models.PoolResponse{Pool: h.amounts.Pool(pool), Vault: h.amounts.Vault(vault)}, nil
		}
	})
}

func (h *Handler) ClosePool(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]
	h.mutate(w, r, func([]byte) operation {
		return func() (int, interface{}, error) {
			pool, err := h.svc.ClosePool(r.Context(), poolID, CallerFrom(r.Context()))
			if err != nil {
				return 0, nil, err
			}
			return http.StatusOK, h.amounts.Pool(pool), nil
		}
	})
}

func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]
	h.mutate(w, r, func(body []byte) operation {
		return func() (int, interface{}, error) {
			var req models.PayoutRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return 0, nil, badRequest("Invalid JSON")
			}
			amount, err := h.amounts.ToMinor(req.Amount)
			if err != nil {
				return 0, nil, unprocessable(err.Error())
			}

			res, err := h.svc.Payout(r.Context(), poolID, CallerFrom(r.Context()), amount)
			if err != nil {
				return 0, nil, err
			}
			return http.StatusOK, models.PayoutResponse{
				Pool:   h.amounts.Pool(res.Pool),
				Vault:  h.amounts.Vault(res.Vault),
				Amount: h.amounts.FromMinor(res.Amount),
			}, nil
		}
	})
}

func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.svc.GetPool(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, h.amounts.Pool(pool))
}

func (h *Handler) GetVault(w http.ResponseWriter, r *http.Request) {
	vault, err := h.svc.GetVault(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, h.amounts.Vault(vault))
}

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.svc.ListPools(r.Context(), mux.Vars(r)["creator"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	out := make([]models.Pool, 0, len(pools))
	for _, p := range pools {
		out = append(out, h.amounts.Pool(p))
	}
	respondJSON(w, r, http.StatusOK, out)
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.OpenAccount(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, h.amounts.Account(acc))
}

// GetAccount only reveals the caller's own balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id != CallerFrom(r.Context()) {
		respondError(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	acc, err := h.svc.GetAccount(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, h.amounts.Account(acc))
}

func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.svc.ListTransfers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	out := make([]models.Transfer, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, h.amounts.Transfer(tr))
	}
	respondJSON(w, r, http.StatusOK, out)
}

// GetAccountEntries lists the caller's own ledger entries, newest first.
func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id != CallerFrom(r.Context()) {
		respondError(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	entries, err := h.svc.ListEntries(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	out := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.amounts.Entry(e))
	}
	respondJSON(w, r, http.StatusOK, out)
}

// FundAccount credits the caller's own account. Only routed when development
// funding is enabled.
func (h *Handler) FundAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id != CallerFrom(r.Context()) {
		respondError(w, r, http.StatusForbidden, "Forbidden")
		return
	}
	h.mutate(w, r, func(body []byte) operation {
		return func() (int, interface{}, error) {
			var req models.FundRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return 0, nil, badRequest("Invalid JSON")
			}
			amount, err := h.amounts.ToMinor(req.Amount)
			if err != nil {
				return 0, nil, unprocessable(err.Error())
			}
			acc, err := h.svc.Fund(r.Context(), id, amount)
			if err != nil {
				return 0, nil, err
			}
			return http.StatusOK, h.amounts.Account(acc), nil
		}
	})
}

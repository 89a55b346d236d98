package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/logging"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/store"
	"github.com/questlog/questlog/internal/syncer"
)

// accountView is the wire shape for a linked account. Credentials never
// leave the process.
type accountView struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"provider_account_id"`
	Username          string     `json:"username"`
	DisplayName       string     `json:"display_name"`
	AvatarURL         string     `json:"avatar_url,omitempty"`
	IsActive          bool       `json:"is_active"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}

func toAccountView(a *models.LinkedAccount) accountView {
	return accountView{
		ID:                a.ID,
		UserID:            a.UserID,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		Username:          a.Username,
		DisplayName:       a.DisplayName,
		AvatarURL:         a.AvatarURL,
		IsActive:          a.IsActive,
		LastSyncAt:        a.LastSyncAt,
	}
}

type linkRequest struct {
	UserID      string          `json:"user_id"`
	Credentials json.RawMessage `json:"credentials"`
}

// LinkAccountHandler links a provider account to a local user.
func LinkAccountHandler(linker *syncer.Linker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "provider")
		if !provider.Valid(name) {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		providerID := provider.ID(name)

		var req linkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if len(req.Credentials) == 0 {
			writeError(w, http.StatusBadRequest, "credentials are required")
			return
		}

		account, err := linker.Link(r.Context(), req.UserID, providerID, req.Credentials)
		if err != nil {
			if errors.Is(err, syncer.ErrAuthenticationFailed) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			log.Error("link account failed",
				zap.String("provider", string(providerID)),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "link failed")
			return
		}

		writeJSON(w, http.StatusCreated, toAccountView(account))
	}
}

// ListAccountsHandler lists a user's linked accounts.
func ListAccountsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id query parameter is required")
			return
		}

		accounts, err := st.ListAccounts(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list accounts failed")
			return
		}

		views := make([]accountView, 0, len(accounts))
		for i := range accounts {
			views = append(views, toAccountView(&accounts[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": views,
			"count":    len(views),
		})
	}
}

// SyncAccountHandler triggers a sync run for one linked account. A run
// already in flight for the same account yields 409.
func SyncAccountHandler(orchestrator *syncer.Orchestrator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")

		ctx := logging.WithRunID(r.Context(), logging.GenerateRunID())
		result, err := orchestrator.SyncAccount(ctx, accountID)
		if err != nil {
			switch {
			case errors.Is(err, syncer.ErrSyncInFlight):
				writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, gorm.ErrRecordNotFound):
				writeError(w, http.StatusNotFound, "account not found")
			default:
				log.Error("sync failed", zap.String("account", accountID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "sync failed")
			}
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// ListGamesHandler returns the stored library for one linked account.
func ListGamesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")

		games, err := st.ListGames(r.Context(), accountID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list games failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"games": games,
			"count": len(games),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

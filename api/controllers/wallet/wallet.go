// Package wallet exposes balances, ledger history and staff top-ups.
package wallet

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/api/middleware"
	"github.com/angelmondragon/evrent-backend/api/responses"
	"github.com/angelmondragon/evrent-backend/api/validators"
	internalwallet "github.com/angelmondragon/evrent-backend/internal/wallet"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

type walletService interface {
	GetWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*internalwallet.HistoryPage, error)
	TopUp(ctx context.Context, input internalwallet.TopUpInput) (*internalwallet.Result, error)
}

type walletView struct {
	AccountID uuid.UUID       `json:"accountId"`
	WalletID  *uuid.UUID      `json:"walletId,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

type topUpRequest struct {
	AccountID   string          `json:"accountId" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount" validate:"money_positive"`
	Description string          `json:"description" validate:"omitempty,max=255"`
}

type topUpResponse struct {
	Balance     decimal.Decimal          `json:"balance"`
	Transaction models.WalletTransaction `json:"transaction"`
}

// Get returns the caller's balance. An account without a wallet reads as zero.
func Get(svc walletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := middleware.AccountIDFromContext(r.Context())
		if accountID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}
		wallet, err := svc.GetWallet(r.Context(), accountID)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
				responses.WriteSuccess(w, walletView{AccountID: accountID, Balance: decimal.Zero})
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletView{AccountID: accountID, WalletID: &wallet.ID, Balance: wallet.Balance})
	}
}

// History lists the caller's ledger entries, newest first.
func History(svc walletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := middleware.AccountIDFromContext(r.Context())
		if accountID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), accountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// TopUp credits a customer's wallet with cash received at the desk. Staff only.
func TopUp(svc walletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		staffID := middleware.AccountIDFromContext(r.Context())
		if staffID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}
		var body topUpRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.TopUp(r.Context(), internalwallet.TopUpInput{
			AccountID:   uuid.MustParse(body.AccountID),
			Amount:      body.Amount,
			Description: validators.SanitizeString(body.Description, 255),
			StaffID:     staffID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, topUpResponse{
			Balance:     result.Balance(),
			Transaction: result.Transaction,
		})
	}
}

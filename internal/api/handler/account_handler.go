package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/credit-batch/internal/api/dto"
	ledgerdomain "github.com/cuongbtq/credit-batch/internal/ledger/domain"
)

// OpenAccount handles POST /api/v1/accounts
func (h *AccountHandler) OpenAccount(c *gin.Context) {
	var req dto.OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	receipt, err := h.ledger.OpenAccount(c.Request.Context(), req.AccountID, req.InitialCredits)
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ReceiptResponse{
		AccountID:     req.AccountID,
		NewBalance:    receipt.NewBalance,
		TransactionID: receipt.TransactionID,
	})
}

// GetBalance handles GET /api/v1/accounts/:account_id/balance
// ?refresh=true bypasses the read cache
func (h *AccountHandler) GetBalance(c *gin.Context) {
	accountID := c.Param("account_id")
	refresh := c.Query("refresh") == "true"

	balance, err := h.ledger.GetBalance(c.Request.Context(), accountID, refresh)
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.BalanceResponse{
		AccountID: accountID,
		Balance:   balance,
	})
}

// AddCredits handles POST /api/v1/accounts/:account_id/credits
func (h *AccountHandler) AddCredits(c *gin.Context) {
	accountID := c.Param("account_id")

	var req dto.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	kind := ledgerdomain.EntryKind(req.Kind)
	if req.Kind == "" {
		kind = ledgerdomain.EntryKindAdminAdjustment
	}
	if kind == ledgerdomain.EntryKindConsumption {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "kind must be ADMIN_ADJUSTMENT or REFUND",
		})
		return
	}

	receipt, err := h.ledger.Add(c.Request.Context(), accountID, req.Amount, req.Description, kind)
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ReceiptResponse{
		AccountID:     accountID,
		NewBalance:    receipt.NewBalance,
		TransactionID: receipt.TransactionID,
	})
}

// DeductCredits handles POST /api/v1/accounts/:account_id/debits
// Administrative debits are always recorded as ADMIN_ADJUSTMENT.
func (h *AccountHandler) DeductCredits(c *gin.Context) {
	accountID := c.Param("account_id")

	var req dto.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	receipt, err := h.ledger.Deduct(c.Request.Context(), accountID, req.Amount, req.Description, ledgerdomain.EntryKindAdminAdjustment)
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ReceiptResponse{
		AccountID:     accountID,
		NewBalance:    receipt.NewBalance,
		TransactionID: receipt.TransactionID,
	})
}

// GetLedger handles GET /api/v1/accounts/:account_id/ledger
func (h *AccountHandler) GetLedger(c *gin.Context) {
	accountID := c.Param("account_id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be an integer",
			})
			return
		}
		limit = n
	}

	entries, err := h.ledger.History(c.Request.Context(), accountID, limit)
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}

	resp := dto.LedgerResponse{
		AccountID: accountID,
		Entries:   make([]dto.LedgerEntryDTO, len(entries)),
	}
	for i, e := range entries {
		resp.Entries[i] = dto.LedgerEntryDTO{
			EntryID:      e.EntryID,
			Amount:       e.Amount,
			Kind:         string(e.Kind),
			Description:  e.Description,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, resp)
}

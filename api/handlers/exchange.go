package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/pkg/models"
)

func (h *Handler) getExchange(c *gin.Context) {
	snap, err := h.exchange.Snapshot()
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, exchangeView{
		Authority:    snap.Authority.String(),
		FeeCollector: snap.FeeCollector.String(),
		MakerFeeBps:  snap.MakerFeeBps,
		TakerFeeBps:  snap.TakerFeeBps,
		TotalMarkets: snap.TotalMarkets,
		Paused:       snap.Paused,
	})
}

func (h *Handler) pauseExchange(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	if err := h.exchange.Pause(id); err != nil {
		errs.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) resumeExchange(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	if err := h.exchange.Resume(id); err != nil {
		errs.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createAccountRequest struct {
	Referrer string `json:"referrer"`
}

func (h *Handler) createAccount(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req createAccountRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	var referrer *uuid.UUID
	if req.Referrer != "" {
		ref, err := uuid.Parse(req.Referrer)
		if err != nil {
			errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid referrer id"))
			return
		}
		referrer = &ref
	}
	acct, err := h.exchange.CreateTradingAccount(id, referrer)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newAccountView(acct))
}

func (h *Handler) getAccount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errs.HandleError(c, errs.ErrAccountNotFound)
		return
	}
	acct, err := h.exchange.Account(id)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAccountView(acct))
}

type fundRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Kind   string `json:"kind"`
	Amount string `json:"amount" binding:"required"`
}

// fund credits the caller's external balance. This is the deposit edge of
// the custody domain; in production it is driven by the settlement rails.
func (h *Handler) fund(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req fundRequest
	if !bindJSON(c, &req) {
		return
	}
	asset, err := uuid.Parse(req.Asset)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid asset id"))
		return
	}
	kind := models.AssetToken
	if req.Kind == "native" {
		kind = models.AssetNative
	}
	amount, ok := parseAmount(c, "amount", req.Amount)
	if !ok {
		return
	}
	ref := vaultRef(id, kind, asset)
	if err := h.vaults.Fund(ref, amount); err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance": models.FromBaseUnits(h.vaults.BalanceOf(ref)).String(),
	})
}

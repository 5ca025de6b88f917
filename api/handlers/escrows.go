package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/escrow"
	"github.com/openbourse/bourse/pkg/models"
)

type createEscrowRequest struct {
	TradeID     uint64 `json:"trade_id" binding:"required"`
	Buyer       string `json:"buyer" binding:"required"`
	Seller      string `json:"seller" binding:"required"`
	BaseAsset   string `json:"base_asset" binding:"required"`
	QuoteAsset  string `json:"quote_asset" binding:"required"`
	BaseKind    string `json:"base_kind"`
	QuoteKind   string `json:"quote_kind"`
	BaseAmount  string `json:"base_amount" binding:"required"`
	QuoteAmount string `json:"quote_amount" binding:"required"`
	Expiry      int64  `json:"expiry"`
}

func (h *Handler) createEscrow(c *gin.Context) {
	var req createEscrowRequest
	if !bindJSON(c, &req) {
		return
	}
	buyer, err := uuid.Parse(req.Buyer)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid buyer id"))
		return
	}
	seller, err := uuid.Parse(req.Seller)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid seller id"))
		return
	}
	baseAsset, err := uuid.Parse(req.BaseAsset)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid base asset id"))
		return
	}
	quoteAsset, err := uuid.Parse(req.QuoteAsset)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid quote asset id"))
		return
	}
	baseAmount, ok := parseAmount(c, "base_amount", req.BaseAmount)
	if !ok {
		return
	}
	quoteAmount, ok := parseAmount(c, "quote_amount", req.QuoteAmount)
	if !ok {
		return
	}
	expiry := req.Expiry
	if expiry == 0 {
		expiry = time.Now().Add(models.DefaultEscrowDuration).Unix()
	}
	rec, err := h.escrows.Initialize(req.TradeID, buyer, seller, baseAsset, quoteAsset,
		assetKind(req.BaseKind), assetKind(req.QuoteKind), baseAmount, quoteAmount, expiry)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newEscrowView(rec))
}

func pathEscrowID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("trade"), 10, 64)
	if err != nil {
		errs.HandleError(c, errs.ErrEscrowNotFound)
		return 0, false
	}
	return id, true
}

func (h *Handler) getEscrow(c *gin.Context) {
	tradeID, ok := pathEscrowID(c)
	if !ok {
		return
	}
	rec, err := h.escrows.Escrow(tradeID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEscrowView(rec))
}

type escrowDepositRequest struct {
	Leg    string `json:"leg" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) depositEscrow(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	tradeID, ok := pathEscrowID(c)
	if !ok {
		return
	}
	var req escrowDepositRequest
	if !bindJSON(c, &req) {
		return
	}
	var leg escrow.Leg
	switch req.Leg {
	case "base":
		leg = escrow.LegBase
	case "quote":
		leg = escrow.LegQuote
	default:
		errs.HandleError(c, errs.ErrInvalidDepositAmount.Withf("unknown leg %q", req.Leg))
		return
	}
	amount, ok := parseAmount(c, "amount", req.Amount)
	if !ok {
		return
	}
	rec, err := h.escrows.Deposit(tradeID, id, leg, amount)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEscrowView(rec))
}

func (h *Handler) executeEscrow(c *gin.Context) {
	tradeID, ok := pathEscrowID(c)
	if !ok {
		return
	}
	rec, err := h.escrows.Execute(tradeID)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEscrowView(rec))
}

func (h *Handler) cancelEscrow(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	tradeID, ok := pathEscrowID(c)
	if !ok {
		return
	}
	rec, err := h.escrows.Cancel(tradeID, id)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, newEscrowView(rec))
}

type emergencyWithdrawRequest struct {
	Destination string `json:"destination" binding:"required"`
}

func (h *Handler) emergencyWithdraw(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	tradeID, ok := pathEscrowID(c)
	if !ok {
		return
	}
	var req emergencyWithdrawRequest
	if !bindJSON(c, &req) {
		return
	}
	dest, err := uuid.Parse(req.Destination)
	if err != nil {
		errs.HandleError(c, errs.ErrInvalidAmount.Withf("invalid destination id"))
		return
	}
	swept, err := h.escrows.EmergencyWithdraw(tradeID, id, dest)
	if err != nil {
		errs.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"swept": models.FromBaseUnits(swept).String(),
	})
}

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cypherpunk-tipjar/tipjar/internal/config"
	"github.com/cypherpunk-tipjar/tipjar/internal/donation"
	"github.com/cypherpunk-tipjar/tipjar/internal/tiers"
)

type verifiedResponse struct {
	Status            string     `json:"status"`
	ReceiptCommitment string     `json:"receiptCommitment"`
	AmountTier        tiers.Tier `json:"amountTier"`
	IsPrivate         bool       `json:"isPrivate"`
	ReceiptTx         string     `json:"receiptTx,omitempty"`
}

type queuedResponse struct {
	Status     string     `json:"status"`
	Reference  string     `json:"reference,omitempty"`
	Commitment string     `json:"commitment"`
	Tier       tiers.Tier `json:"tier"`
	IsPrivate  bool       `json:"isPrivate"`
	ReceiptTx  string     `json:"receiptTx,omitempty"`
}

type initCompDefResponse struct {
	Success     bool   `json:"success"`
	Tx          string `json:"tx,omitempty"`
	Message     string `json:"message,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (h *handlers) verify(c *gin.Context) {
	var body verifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fieldErrors(err)})
		return
	}

	res, err := h.svc.Verify(c.Request.Context(), donation.Request{
		TxSig:       body.TxSig,
		Reference:   body.Reference,
		MinLamports: uint64(*body.MinLamports),
		IsPrivate:   body.IsPrivate,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.opts.CallbackMode == config.CallbackServer {
		c.JSON(http.StatusOK, verifiedResponse{
			Status:            donation.StatusVerified,
			ReceiptCommitment: res.Commitment,
			AmountTier:        res.Tier,
			IsPrivate:         res.IsPrivate,
			ReceiptTx:         res.ReceiptTx,
		})
		return
	}
	c.JSON(http.StatusOK, queuedResponse{
		Status:     donation.StatusQueued,
		Reference:  res.Reference,
		Commitment: res.Commitment,
		Tier:       res.Tier,
		IsPrivate:  res.IsPrivate,
		ReceiptTx:  res.ReceiptTx,
	})
}

func (h *handlers) writeError(c *gin.Context, err error) {
	var derr *donation.Error
	if !errors.As(err, &derr) {
		derr = &donation.Error{Kind: donation.KindInternal, Err: err}
	}
	status := http.StatusInternalServerError
	switch derr.Kind {
	case donation.KindValidation:
		status = http.StatusBadRequest
	case donation.KindConflict:
		status = http.StatusConflict
	}
	h.log.WithError(err).WithFields(logrus.Fields{
		"kind":      derr.Kind,
		"path":      c.Request.URL.Path,
		"requestID": c.GetString(requestIDKey),
	}).Warn("request failed")
	c.JSON(status, gin.H{"error": derr.Message(), "code": derr.Kind})
}

func (h *handlers) initCompDef(c *gin.Context) {
	res, err := h.svc.InitCompDef(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to initialize computation definition")
		c.JSON(http.StatusInternalServerError, initCompDefResponse{Success: false, Error: err.Error()})
		return
	}
	if res.AlreadyInitialized {
		c.JSON(http.StatusOK, initCompDefResponse{
			Success: true,
			Message: "Computation definition already initialized",
		})
		return
	}
	out := initCompDefResponse{
		Success: true,
		Tx:      res.Tx,
		Message: "Computation definition initialized successfully",
	}
	if h.opts.ExplorerURL != nil {
		out.ExplorerURL = h.opts.ExplorerURL(res.Tx)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Query("commitment"), c.Query("txSig"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paymnee/paygate/internal/core/domain"
	"github.com/paymnee/paygate/internal/scan"
)

// paymentJSON renders a ledger record with the amount as a decimal
// string. Minor-unit amounts overflow float64 in JavaScript clients.
type paymentJSON struct {
	ID          string `json:"id"`
	ItemID      string `json:"item_id"`
	PayerWallet string `json:"payer_wallet"`
	TxHash      string `json:"tx_hash"`
	Amount      string `json:"amount"`
	CreatedAt   string `json:"created_at"`
}

func toPaymentJSON(p *domain.PaymentRecord) paymentJSON {
	return paymentJSON{
		ID:          p.ID,
		ItemID:      p.ItemID,
		PayerWallet: p.PayerWallet,
		TxHash:      p.TxHash,
		Amount:      p.Amount.String(),
		CreatedAt:   p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toPaymentList(records []*domain.PaymentRecord) []paymentJSON {
	out := make([]paymentJSON, 0, len(records))
	for _, p := range records {
		out = append(out, toPaymentJSON(p))
	}
	return out
}

type submitPaymentRequest struct {
	ItemID      string `json:"item_id" binding:"required"`
	PayerWallet string `json:"payer_wallet" binding:"required,ethaddr"`
	TxHash      string `json:"tx_hash" binding:"required,ethtxhash"`
}

// submitPayment verifies a transaction on chain and records it.
// Resubmitting a recorded hash returns the existing record with 200
// instead of 201, so client retries are harmless.
func (s *Server) submitPayment(c *gin.Context) {
	var req submitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.gate.SubmitPayment(c.Request.Context(), req.ItemID, req.PayerWallet, req.TxHash)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyRecorded {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"payment":          toPaymentJSON(result.Payment),
		"already_recorded": result.AlreadyRecorded,
	})
}

func (s *Server) getPayment(c *gin.Context) {
	payment, err := s.gate.GetPayment(c.Request.Context(), c.Param("txHash"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentJSON(payment))
}

func (s *Server) checkAccess(c *gin.Context) {
	wallet := c.Query("wallet")
	itemID := c.Query("item_id")
	if wallet == "" || itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet and item_id are required"})
		return
	}

	decision, err := s.gate.CheckAccess(c.Request.Context(), wallet, itemID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"granted": decision.Granted, "reason": decision.Reason}
	if decision.Granted {
		resp["content_url"] = decision.ContentURL
		resp["payment"] = toPaymentJSON(decision.Payment)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) paymentHistory(c *gin.Context) {
	wallet := c.Query("wallet")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet is required"})
		return
	}

	records, err := s.gate.PaymentHistory(c.Request.Context(), wallet)
	if err != nil {
		writeError(c, err)
		return
	}

	type historyEntry struct {
		paymentJSON
		ItemTitle string `json:"item_title,omitempty"`
	}
	out := make([]historyEntry, 0, len(records))
	for _, p := range records {
		entry := historyEntry{paymentJSON: toPaymentJSON(p)}
		// Best effort; a since-deleted item leaves the title blank.
		if item, err := s.gate.GetItem(c.Request.Context(), p.ItemID); err == nil {
			entry.ItemTitle = item.Title
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

func (s *Server) itemStats(c *gin.Context) {
	stats, err := s.gate.ItemStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": stats.Count,
		"total": stats.Total.String(),
	})
}

type scanRequest struct {
	Recipient string `json:"recipient" binding:"required,ethaddr"`
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
	// Range is a "start-end" shorthand for from_block/to_block.
	Range string `json:"range"`
}

func (r *scanRequest) bounds() (uint64, uint64, error) {
	if r.Range == "" {
		return r.FromBlock, r.ToBlock, nil
	}
	rng, err := scan.ParseRange(r.Range)
	if err != nil {
		return 0, 0, err
	}
	return rng.Start, rng.End, nil
}

type candidateJSON struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Recorded    bool   `json:"recorded"`
}

// scanRecipient walks chain history for transfers to a recipient and
// reports them annotated against the ledger. It records nothing.
func (s *Server) scanRecipient(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, to, err := req.bounds()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	it, err := s.gate.ScanRecipient(c.Request.Context(), req.Recipient, from, to)
	if err != nil {
		writeError(c, err)
		return
	}

	candidates := make([]scan.Candidate, 0)
	for it.Next(c.Request.Context()) {
		candidates = append(candidates, it.Candidate())
	}
	if err := it.Err(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": toCandidateList(candidates)})
}

func toCandidateList(candidates []scan.Candidate) []candidateJSON {
	out := make([]candidateJSON, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, candidateJSON{
			TxHash:      cand.TxHash,
			BlockNumber: cand.BlockNumber,
			From:        cand.From,
			To:          cand.To,
			Amount:      cand.Amount.String(),
			Recorded:    cand.Recorded,
		})
	}
	return out
}

// listFailedChunks reports block ranges that a scan could not cover
// after exhausting its retry budget.
func (s *Server) listFailedChunks(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is required"})
		return
	}
	chunks, err := s.gate.ListFailedChunks(c.Request.Context(), recipient)
	if err != nil {
		writeError(c, err)
		return
	}
	if chunks == nil {
		chunks = []*domain.FailedChunk{}
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks, "count": len(chunks)})
}

// retryFailedChunk rescans one parked chunk and resolves it on success.
func (s *Server) retryFailedChunk(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient is required"})
		return
	}
	candidates, err := s.gate.RetryFailedChunk(c.Request.Context(), recipient, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": toCandidateList(candidates)})
}

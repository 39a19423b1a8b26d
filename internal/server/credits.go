package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type creditBalanceResponse struct {
	UserID              string     `json:"userId"`
	CreditBalance       int64      `json:"creditBalance"`
	BasePlanCredits     int64      `json:"basePlanCredits"`
	CarryOverCredits    int64      `json:"carryOverCredits"`
	CarryOverExpiresAt  *time.Time `json:"carryOverExpiresAt,omitempty"`
	MembershipTier      string     `json:"membershipTier"`
	MembershipExpiresAt *time.Time `json:"membershipExpiresAt,omitempty"`
	MonthlyCreditsUsed  int64      `json:"monthlyCreditsUsed"`
	LastCreditReset     time.Time  `json:"lastCreditReset"`
}

func (s *Server) handleGetCredits(c *gin.Context) {
	userID, ok := parseUserParam(c)
	if !ok {
		return
	}

	ledger, err := s.ledgerRepo.FindByUserID(c.Request.Context(), s.db, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if ledger == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger not found"})
		return
	}

	c.JSON(http.StatusOK, creditBalanceResponse{
		UserID:              ledger.UserID.String(),
		CreditBalance:       ledger.CreditBalance,
		BasePlanCredits:     ledger.BasePlanCredits,
		CarryOverCredits:    ledger.CarryOverCredits,
		CarryOverExpiresAt:  ledger.CarryOverExpiresAt,
		MembershipTier:      string(ledger.MembershipTier),
		MembershipExpiresAt: ledger.MembershipExpiresAt,
		MonthlyCreditsUsed:  ledger.MonthlyCreditsUsed,
		LastCreditReset:     ledger.LastCreditReset,
	})
}

type transactionResponse struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Amount      int64          `json:"amount"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (s *Server) handleListTransactions(c *gin.Context) {
	userID, ok := parseUserParam(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := s.ledgerRepo.ListTransactions(c.Request.Context(), s.db, userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]transactionResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, transactionResponse{
			ID:          entry.ID.String(),
			Type:        string(entry.Type),
			Amount:      entry.Amount,
			Description: entry.Description,
			Metadata:    entry.Metadata,
			CreatedAt:   entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

type subscriptionResponse struct {
	ExternalSubscriptionID string    `json:"externalSubscriptionId"`
	TierID                 string    `json:"tierId"`
	Status                 string    `json:"status"`
	CurrentPeriodStart     time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time `json:"currentPeriodEnd"`
	CreatedAt              time.Time `json:"createdAt"`
}

func (s *Server) handleListSubscriptions(c *gin.Context) {
	userID, ok := parseUserParam(c)
	if !ok {
		return
	}

	subs, err := s.subscriptionRepo.ListByUserID(c.Request.Context(), s.db, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionResponse{
			ExternalSubscriptionID: sub.ExternalSubscriptionID,
			TierID:                 sub.TierID,
			Status:                 string(sub.Status),
			CurrentPeriodStart:     sub.CurrentPeriodStart,
			CurrentPeriodEnd:       sub.CurrentPeriodEnd,
			CreatedAt:              sub.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

func parseUserParam(c *gin.Context) (snowflake.ID, bool) {
	userID, err := snowflake.ParseString(c.Param("user_id"))
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return userID, true
}

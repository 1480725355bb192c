package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
)

func (s *Server) getWallet(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	wallet, err := s.walletSvc.GetOrCreateWallet(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (s *Server) listLedgerEntries(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	req := walletdomain.ListEntriesRequest{
		UserID:    userID,
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  queryInt(c, "page_size", 0),
	}
	if raw := strings.TrimSpace(c.Query("currency")); raw != "" {
		currency := walletdomain.Currency(raw)
		if !currency.Valid() {
			AbortWithError(c, walletdomain.ErrInvalidCurrency)
			return
		}
		req.Currency = &currency
	}

	resp, err := s.walletSvc.ListEntries(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

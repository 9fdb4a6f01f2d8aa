package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	ratingdomain "github.com/warebill/warebill/internal/rating/domain"
)

// GetEffectiveRates renders the fully resolved price view for a customer
// on a date: every catalog subtype with its winning source, the merged
// VAS menu and the monthly minimum.
func (s *Server) GetEffectiveRates(c *gin.Context) {
	customerID, err := snowflake.ParseString(strings.TrimSpace(c.Query("customer_id")))
	if err != nil || customerID == 0 {
		AbortWithError(c, ratingdomain.ErrInvalidCustomer)
		return
	}
	date, err := parseDateQuery(c, "date")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ratingSvc.EffectiveRates(c.Request.Context(), customerID, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

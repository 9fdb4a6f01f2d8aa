package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	ratecarddomain "github.com/warebill/warebill/internal/ratecard/domain"
)

func (s *Server) CreateStandardCard(c *gin.Context) {
	var req ratecarddomain.CreateStandardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}

	resp, err := s.rateCardSvc.CreateStandard(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateCardVersion(c *gin.Context) {
	var req ratecarddomain.CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}
	req.ParentID = strings.TrimSpace(c.Param("id"))

	resp, err := s.rateCardSvc.CreateVersion(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateCardAdjustment(c *gin.Context) {
	var req ratecarddomain.CreateAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}
	req.ParentID = strings.TrimSpace(c.Param("id"))

	resp, err := s.rateCardSvc.CreateAdjustment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ActivateCard(c *gin.Context) {
	resp, err := s.rateCardSvc.Activate(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateCard(c *gin.Context) {
	resp, err := s.rateCardSvc.Deactivate(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveCard(c *gin.Context) {
	var req ratecarddomain.ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	resp, err := s.rateCardSvc.Archive(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RestoreCard(c *gin.Context) {
	resp, err := s.rateCardSvc.Restore(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetActiveCard(c *gin.Context) {
	resp, err := s.rateCardSvc.GetActive(c.Request.Context(), strings.TrimSpace(c.Query("customer_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCardForDate(c *gin.Context) {
	date, err := parseDateQuery(c, "date")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.rateCardSvc.GetForDate(c.Request.Context(), strings.TrimSpace(c.Query("customer_id")), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RateCardHistory(c *gin.Context) {
	var req ratecarddomain.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}

	resp, err := s.rateCardSvc.History(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// parseDateQuery accepts both date-only and RFC3339 values.
func parseDateQuery(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, errInvalidRequest
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errInvalidRequest
	}
	return t.UTC(), nil
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	activitydomain "github.com/warebill/warebill/internal/activity/domain"
)

func (s *Server) RecordActivity(c *gin.Context) {
	var req activitydomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}
	// Idempotency-Key header wins over the body field.
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}

	resp, err := s.activitySvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CorrectActivity(c *gin.Context) {
	var req activitydomain.CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}
	req.ActivityID = strings.TrimSpace(c.Param("id"))

	resp, err := s.activitySvc.RecordCorrection(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetActivityByID(c *gin.Context) {
	resp, err := s.activitySvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListActivities(c *gin.Context) {
	var query struct {
		CustomerID string    `form:"customer_id"`
		Start      time.Time `form:"start" time_format:"2006-01-02"`
		End        time.Time `form:"end" time_format:"2006-01-02"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}

	resp, err := s.activitySvc.ListForPeriod(c.Request.Context(), strings.TrimSpace(query.CustomerID), query.Start, query.End)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

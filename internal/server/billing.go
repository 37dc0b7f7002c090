package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	dispatchdomain "github.com/fieldline/fieldline/internal/dispatch/domain"
	"github.com/fieldline/fieldline/internal/tenantctx"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetBillingHealth(c *gin.Context) {
	report, err := s.healthSvc.Report(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if report.Status != "healthy" {
		// Degraded and critical reports still carry a body; the status code
		// lets probes react without parsing it.
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) GetQuota(c *gin.Context) {
	tenantID, ok := parseSnowflake(c.Query("tenant_id"))
	if !ok {
		if tenantID, ok = tenantctx.TenantIDFromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	resourceType := c.Query("resource_type")

	status, err := s.ledgerSvc.CheckQuota(c.Request.Context(), tenantID, resourceType)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) GetReservation(c *gin.Context) {
	reservationID, ok := parseSnowflake(c.Param("reservation_id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	reservation, err := s.packSvc.Get(c.Request.Context(), reservationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (s *Server) ListCompensations(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	records, err := s.compSvc.ListUnresolved(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"compensations": records, "count": len(records)})
}

type resolveCompensationRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Note       string `json:"note"`
}

func (s *Server) ResolveCompensation(c *gin.Context) {
	reservationID, ok := parseSnowflake(c.Param("reservation_id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req resolveCompensationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.compSvc.Resolve(c.Request.Context(), reservationID, req.ResolvedBy, req.Note); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

type dispatchActionRequest struct {
	TenantID     string         `json:"tenant_id"`
	ResourceType string         `json:"resource_type" binding:"required"`
	Payload      map[string]any `json:"payload"`
}

func (s *Server) DispatchAction(c *gin.Context) {
	var req dispatchActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	tenantID, ok := parseSnowflake(req.TenantID)
	if !ok {
		if tenantID, ok = tenantctx.TenantIDFromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	receipt, err := s.dispatchSvc.Dispatch(c.Request.Context(), tenantID, dispatchdomain.Action{
		ResourceType: req.ResourceType,
		Payload:      req.Payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func parseSnowflake(raw string) (snowflake.ID, bool) {
	if raw == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return snowflake.ID(parsed), true
}

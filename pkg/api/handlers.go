package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/runs"
)

// createEstimateRequest is the inbound run request body.
type createEstimateRequest struct {
	ChatID   string                `json:"chat_id" binding:"required"`
	ShopID   string                `json:"shop_id"`
	Vehicle  models.VehicleHints   `json:"vehicle"`
	Query    string                `json:"query" binding:"required"`
	DTCs     []string              `json:"dtcs"`
	Customer *models.CustomerHints `json:"customer"`
	WantPDF  bool                  `json:"want_pdf"`
}

// CreateEstimate starts a run asynchronously and returns its run id. The
// result lands in the session store keyed by chat id.
func (s *Server) CreateEstimate(c *gin.Context) {
	var req createEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, code := range req.DTCs {
		if !models.ValidDTC(code) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed trouble code: " + code})
			return
		}
	}

	runID, err := s.manager.Submit(models.Request{
		ChatID:       req.ChatID,
		ShopID:       req.ShopID,
		VehicleHints: req.Vehicle,
		Query:        req.Query,
		DTCs:         req.DTCs,
		Customer:     req.Customer,
		WantPDF:      req.WantPDF,
	})
	if errors.Is(err, runs.ErrBusy) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "run capacity reached, retry shortly"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "running"})
}

// GetEstimate returns the chat's last result.
func (s *Server) GetEstimate(c *gin.Context) {
	res := s.store.Get(c.Param("chat_id"))
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no estimate on file for this chat"})
		return
	}
	c.JSON(http.StatusOK, res)
}

type followUpRequest struct {
	ShopOverride bool `json:"shop_override"`
}

// OrderParts submits the last estimate's staged cart as a vendor order.
func (s *Server) OrderParts(c *gin.Context) {
	var req followUpRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	or, err := s.dispatcher.OrderParts(c.Request.Context(), c.Param("chat_id"), req.ShopOverride)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(statusForOrder(or), or)
}

// Approve records customer approval of the last estimate.
func (s *Server) Approve(c *gin.Context) {
	var req followUpRequest
	_ = c.ShouldBindJSON(&req)

	or, err := s.dispatcher.CustomerApproved(c.Request.Context(), c.Param("chat_id"), req.ShopOverride)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(statusForOrder(or), or)
}

// CancelRun aborts an in-flight run.
func (s *Server) CancelRun(c *gin.Context) {
	runID := c.Param("run_id")
	if !s.manager.Cancel(runID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active run with that id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": "cancelling"})
}

// ToolCall is the generic chat-gateway entry: tool name in the path, raw
// JSON arguments in the body.
func (s *Server) ToolCall(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body: " + err.Error()})
		return
	}
	reply, err := s.dispatcher.Handle(c.Request.Context(), c.Param("name"), json.RawMessage(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func statusForOrder(or *models.OrderResult) int {
	if or.Accepted {
		return http.StatusOK
	}
	return http.StatusConflict
}

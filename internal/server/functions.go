package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/glacestorm/crmalerts/internal/webhook/domain"
	"go.uber.org/zap"
)

type goalRiskResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	GoalsChecked int    `json:"goalsChecked"`
	AlertsSent   int    `json:"alertsSent"`
}

type escalationResponse struct {
	Success           bool `json:"success"`
	EscalatedCount    int  `json:"escalatedCount"`
	NotificationsSent int  `json:"notificationsSent"`
}

func (s *Server) RunGoalRiskMonitor(c *gin.Context) {
	result, err := s.goalRiskSvc.RunCheck(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, goalRiskResponse{
		Success:      true,
		Message:      fmt.Sprintf("Checked %d goals, sent %d alerts", result.GoalsChecked, result.AlertsSent),
		GoalsChecked: result.GoalsChecked,
		AlertsSent:   result.AlertsSent,
	})
}

func (s *Server) RunAlertEscalation(c *gin.Context) {
	result, err := s.escalationSvc.Run(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, escalationResponse{
		Success:           true,
		EscalatedCount:    result.EscalatedCount,
		NotificationsSent: result.NotificationsSent,
	})
}

func (s *Server) DispatchWebhook(c *gin.Context) {
	var req webhookdomain.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is required")
		}
		AbortWithError(c, errors.Join(ErrInvalidRequest, err))
		return
	}

	result, err := s.dispatchSvc.Dispatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Debug("webhook dispatch handled",
		zap.String("channel", req.ChannelName),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("successful", result.Successful),
	)
	c.JSON(http.StatusOK, result)
}

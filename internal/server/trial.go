package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	trialdomain "github.com/smallbiznis/answerline/internal/trial/domain"
)

func (s *Server) StartTrial(c *gin.Context) {
	var req trialdomain.StartTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	business, err := s.trialSvc.StartTrial(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, business)
}

func (s *Server) GetTrialStatus(c *gin.Context) {
	status, err := s.trialSvc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetUsageSummary(c *gin.Context) {
	summary, err := s.usagesvc.Summary(c.Request.Context(), c.Param("id"), c.Query("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type itemProgressRequest struct {
	Progress *int `json:"progress"`
}

func (s *Server) UpdateItemProgress(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	itemID, err := parseIDParam(c, "item_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req itemProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Progress == nil {
		AbortWithError(c, newValidationError("progress", "required", "progress is required"))
		return
	}

	item, err := s.orderSvc.UpdateItemProgress(c.Request.Context(), orderID, itemID, *req.Progress)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) CompleteItem(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	itemID, err := parseIDParam(c, "item_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.orderSvc.CompleteItem(c.Request.Context(), orderID, itemID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

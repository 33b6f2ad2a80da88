package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paymnee/paygate/internal/core/domain"
)

type createPageRequest struct {
	CreatorWallet string `json:"creator_wallet" binding:"required,ethaddr"`
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
}

func (s *Server) createPage(c *gin.Context) {
	var req createPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := s.gate.CreatePage(c.Request.Context(), req.CreatorWallet, req.Title, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, page)
}

func (s *Server) getPage(c *gin.Context) {
	page, err := s.gate.GetPage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) listPages(c *gin.Context) {
	creator := c.Query("creator")
	if creator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "creator is required"})
		return
	}

	pages, err := s.gate.ListPagesByCreator(c.Request.Context(), creator)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

func (s *Server) listItems(c *gin.Context) {
	if _, err := s.gate.GetPage(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	items, err := s.gate.ListItemsByPage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type itemRequest struct {
	PageID      string `json:"page_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Kind        string `json:"kind" binding:"required,oneof=fixed open"`
	Price       string `json:"price"`
	ContentURL  string `json:"content_url"`
}

func (s *Server) createItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := s.gate.CreateItem(c.Request.Context(), &domain.Item{
		PageID:      req.PageID,
		Title:       req.Title,
		Description: req.Description,
		Kind:        domain.ItemKind(req.Kind),
		Price:       req.Price,
		ContentURL:  req.ContentURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) getItem(c *gin.Context) {
	item, err := s.gate.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type updateItemRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Kind        string `json:"kind" binding:"required,oneof=fixed open"`
	Price       string `json:"price"`
	ContentURL  string `json:"content_url"`
}

func (s *Server) updateItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := s.gate.UpdateItem(c.Request.Context(), &domain.Item{
		ID:          c.Param("id"),
		Title:       req.Title,
		Description: req.Description,
		Kind:        domain.ItemKind(req.Kind),
		Price:       req.Price,
		ContentURL:  req.ContentURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

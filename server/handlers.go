package server

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/ssau-fiit/cloudocs-sync/common/util"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/document"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleGetDocuments(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list documents")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if documents == nil {
		documents = []database.Document{}
	}

	c.JSON(http.StatusOK, documents)
}

func (s *Server) handleCreateDocument(c *gin.Context) {
	var r CreateDocRequest
	if err := c.BindJSON(&r); err != nil {
		s.log.Error().Err(err).Msg("bad request")
		return
	}
	if r.Author == "" {
		r.Author = "Автор"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	doc := database.Document{
		ID:     strconv.Itoa(util.GetRandomNumber()),
		Name:   r.Name,
		Author: r.Author,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.log.Error().Err(err).Msg("error creating document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleGetText(c *gin.Context) {
	docID := c.Param("id")

	if r, ok := s.loadedRoom(docID); ok {
		if state, ok := r.snapshot(); ok {
			c.JSON(http.StatusOK, TextResponse{
				Content:  state.Content,
				Version:  state.Version,
				Checksum: document.Checksum(state.Content),
			})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	text, err := s.store.LoadText(ctx, docID)
	if errors.Is(err, database.ErrNotFound) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("document", docID).Msg("error getting document text")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, TextResponse{
		Content:  text.Content,
		Version:  text.Version,
		Checksum: document.Checksum(text.Content),
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	docID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancel()

	err := s.store.DeleteDocument(ctx, docID)
	if errors.Is(err, database.ErrNotFound) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("document", docID).Msg("error deleting document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	s.dropRoom(docID)
	c.Status(http.StatusOK)
}

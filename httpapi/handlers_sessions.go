package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type putSessionObjectRequest struct {
	Value      json.RawMessage `json:"value" binding:"required"`
	TTLSeconds int64           `json:"ttlSeconds"`
}

func (s *Server) putSessionObject(c *gin.Context) {
	var req putSessionObjectRequest
	if !s.bind(c, &req) {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := s.engine.SetSessionObject(c.Request.Context(), c.Param("key"), req.Value, ttl); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getSessionObject(c *gin.Context) {
	key := c.Param("key")
	value, err := s.engine.GetSessionObject(c.Request.Context(), key)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (s *Server) deleteSessionObject(c *gin.Context) {
	if err := s.engine.DeleteSessionObject(c.Request.Context(), c.Param("key")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createSessionSIDRequest struct {
	Key        string `json:"key" binding:"required"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

func (s *Server) createSessionSID(c *gin.Context) {
	var req createSessionSIDRequest
	if !s.bind(c, &req) {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	sid, err := s.engine.CreateSessionSID(c.Request.Context(), req.Key, ttl)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sid": sid})
}

func (s *Server) getSessionObjectBySID(c *gin.Context) {
	sid := c.Param("sid")
	value, err := s.engine.GetSessionObjectBySID(c.Request.Context(), sid)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sid": sid, "value": value})
}

func (s *Server) deleteSessionSID(c *gin.Context) {
	if err := s.engine.DeleteSessionSID(c.Request.Context(), c.Param("sid")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

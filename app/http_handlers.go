package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/notnil/chess"
	"github.com/rs/zerolog"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"
)

const analyzeTimeout = 5 * time.Minute

// Server holds the explicitly constructed pieces the handlers need. No
// ambient globals; the composing application owns all lifetimes.
type Server struct {
	pool    *EnginePool
	cache   *AnalysisCache
	archive *Archive
	log     zerolog.Logger
}

func NewServer(pool *EnginePool, cache *AnalysisCache, archive *Archive, log zerolog.Logger) *Server {
	return &Server{pool: pool, cache: cache, archive: archive, log: log}
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pool": s.pool.Status().Phase})
}

type analyzeRequest struct {
	FEN string `json:"fen" binding:"required"`
}

// Analyze runs the full pipeline for one position. A request for a new
// position supersedes the one in flight.
func (s *Server) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing fen"})
		return
	}
	if _, err := chess.FEN(req.FEN); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fen"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), analyzeTimeout)
	defer cancel()

	snap, err := s.pool.Analyze(ctx, req.FEN)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer request"})
	case errors.Is(err, ErrNoCandidates):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no candidate moves"})
	default:
		s.log.Error().Err(err).Str("fen", req.FEN).Msg("analysis failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
	}
}

func (s *Server) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.pool.Status())
}

// GetSnapshot serves a previously completed analysis from the cache or the
// archive, never triggering recomputation.
func (s *Server) GetSnapshot(c *gin.Context) {
	fen := c.Query("fen")
	if fen == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing fen"})
		return
	}

	if s.cache != nil {
		if snap, ok := s.cache.Get(fen); ok {
			c.JSON(http.StatusOK, snap)
			return
		}
	}

	var snap *models.PositionSnapshot
	if s.archive != nil {
		var err error
		snap, err = s.archive.LoadSnapshot(c.Request.Context(), fen)
		if err != nil {
			s.log.Error().Err(err).Msg("archive lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "archive lookup failed"})
			return
		}
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analysis for position"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

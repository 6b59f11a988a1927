package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/pairbot/pkg/marketspec"
)

const requestTimeout = 5 * time.Second

func writeError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	st, err := s.cfg.Ledger.GetAllStats(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleCoinStats(c *gin.Context) {
	inst, err := marketspec.ParseInstrument(c.Param("coin"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	cs, err := s.cfg.Ledger.GetCoinStats(ctx, inst.String())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"coin": inst, "stats": cs})
}

func (s *Server) handleDrawdown(c *gin.Context) {
	limit := s.cfg.DrawdownLimit
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 || n >= 1 {
			writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	tripped, dd, err := s.cfg.Ledger.CheckDrawdown(ctx, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"tripped": tripped, "drawdown": dd, "limit": limit})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Positions())
}

func (s *Server) handleOrders(c *gin.Context) {
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	orders, err := s.cfg.Journal.Orders(ctx, strings.TrimSpace(c.Query("market")), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleTransitions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	trs, err := s.cfg.Journal.Transitions(ctx, c.Param("market"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, trs)
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthHandler reports reachability of each backing dependency.
// Unconfigured dependencies report "disabled" rather than failing the
// check.
func (s *Server) healthHandler(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if s.db != nil {
		if err := s.db.Health(c.Request.Context()); err != nil {
			checks["history"] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["history"] = "ok"
		}
	} else {
		checks["history"] = "disabled"
	}

	if s.cache != nil {
		if err := s.cache.Ping(c.Request.Context()); err != nil {
			checks["cache"] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["cache"] = "ok"
		}
	} else {
		checks["cache"] = "disabled"
	}

	if s.rabbit != nil {
		if err := s.rabbit.Health(); err != nil {
			checks["events"] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["events"] = "ok"
		}
	} else {
		checks["events"] = "disabled"
	}

	c.JSON(status, checks)
}

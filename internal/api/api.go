// Package api exposes the dryer control subsystem's HTTP surface: the one
// mutating endpoint the spec names (set_preset) plus read-only listings
// for dryers/presets, since a caller needs some way to discover the ids
// set_preset takes. Built on gin, the way the teacher's declared
// gin-gonic/gin dependency is exercised (the teacher's own route table
// wasn't part of the retrieved excerpt, so the handler shape here follows
// gin's own idiomatic context-binding/JSON-response pattern).
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/idryer/dryerd/internal/moonraker"
	"github.com/idryer/dryerd/internal/store"
)

// DryerControl is the narrow surface the API needs from the running
// system: look up a live controller by dryer id and drive its preset.
type DryerControl interface {
	SetPreset(ctx context.Context, dryerID string, presetID string) error
}

// Server wires the store and the live controller set into a gin engine.
type Server struct {
	engine  *gin.Engine
	store   store.Store
	control DryerControl
	log     *logrus.Entry
}

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// New builds a Server with its route table installed.
func New(st store.Store, control DryerControl, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:  gin.New(),
		store:   st,
		control: control,
		log:     log.WithField("component", "api"),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Run serves the control API on addr, blocking until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) routes() {
	g := s.engine.Group("/api")
	g.GET("/dryers", s.listDryers)
	g.GET("/dryers/:id", s.getDryer)
	g.GET("/presets", s.listPresets)
	g.POST("/dryers/:id/preset", s.setPreset)
}

type setPresetRequest struct {
	PresetID string `json:"preset_id"`
}

// setPreset handles POST /api/dryers/:id/preset. An empty preset_id
// requests PENDING; a non-empty one requires an existing link or the
// caller gets 404.
func (s *Server) setPreset(c *gin.Context) {
	dryerID := c.Param("id")
	ctx := c.Request.Context()

	if _, ok, err := s.store.Dryers().Get(ctx, dryerID); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	} else if !ok {
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: "dryer not found"})
		return
	}

	var req setPresetRequest
	_ = c.ShouldBindJSON(&req)

	if req.PresetID != "" {
		linked, err := s.store.Links().Exists(ctx, dryerID, req.PresetID)
		if err != nil {
			s.fail(c, http.StatusInternalServerError, err)
			return
		}
		if !linked {
			c.JSON(http.StatusNotFound, envelope{Success: false, Message: "preset not linked to dryer"})
			return
		}
	}

	if err := s.control.SetPreset(ctx, dryerID, req.PresetID); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Message: "preset applied"})
}

func (s *Server) listDryers(c *gin.Context) {
	ctx := c.Request.Context()
	records, err := s.store.Dryers().List(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: records})
}

func (s *Server) getDryer(c *gin.Context) {
	ctx := c.Request.Context()
	rec, ok, err := s.store.Dryers().Get(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: "dryer not found"})
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: rec})
}

func (s *Server) listPresets(c *gin.Context) {
	ctx := c.Request.Context()
	presets, err := s.store.Presets().List(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: presets})
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	s.log.WithError(err).Error("request failed")
	msg := err.Error()
	if moonraker.KindOf(err) == moonraker.KindNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, envelope{Success: false, Message: msg})
}

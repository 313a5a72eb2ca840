package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agenthands/tavern/internal/campaign"
	"github.com/agenthands/tavern/internal/core"
	"github.com/agenthands/tavern/internal/core/model"
	"github.com/agenthands/tavern/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultEventLimit = 20

type Server struct {
	Manager *core.Manager
	Store   storage.Store
	logger  *zap.Logger
}

func NewServer(manager *core.Manager, store storage.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Manager: manager, Store: store, logger: logger}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/adventures", s.ListAdventures)
	r.POST("/adventures", s.CreateAdventure)

	adv := r.Group("/adventures/:id")
	adv.GET("/status", s.Status)
	adv.POST("/actions", s.SubmitAction)
	adv.POST("/cancel", s.Cancel)
	adv.POST("/tick", s.Tick)
	adv.GET("/events", s.Events)
	adv.GET("/memory", s.Memory)
	adv.POST("/members", s.AddMember)
	adv.DELETE("/members/:actor", s.RemoveMember)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// fail maps engine errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var retry *model.RetryableError
	switch {
	case errors.Is(err, core.ErrEmptyAction),
		errors.Is(err, campaign.ErrUnknownClass),
		errors.Is(err, model.ErrEmptyParty):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrUnknownActor):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrStaleAction),
		errors.Is(err, model.ErrNotInitiator),
		errors.Is(err, model.ErrNoSession),
		errors.Is(err, model.ErrSessionClosed),
		errors.Is(err, model.ErrSessionExpired),
		errors.Is(err, model.ErrDuplicateActor):
		status = http.StatusConflict
	case errors.Is(err, model.ErrAgentUnavailable), errors.As(err, &retry):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
}

func (s *Server) adventure(c *gin.Context) (*core.Adventure, bool) {
	adv, err := s.Manager.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return adv, true
}

func (s *Server) ListAdventures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"adventures": s.Manager.List()})
}

func (s *Server) CreateAdventure(c *gin.Context) {
	var req core.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	adv, err := s.Manager.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, adv.Status())
}

func (s *Server) Status(c *gin.Context) {
	adv, ok := s.adventure(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, adv.Status())
}

type actionResponse struct {
	core.Result
	Denied *deniedBody `json:"denied,omitempty"`
	Status core.Status `json:"status"`
}

type deniedBody struct {
	Validator string `json:"validator"`
	Reason    string `json:"reason"`
}

func (s *Server) SubmitAction(c *gin.Context) {
	adv, ok := s.adventure(c)
	if !ok {
		return
	}
	var sub core.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := adv.SubmitAction(c.Request.Context(), sub)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := actionResponse{Result: res, Status: adv.Status()}
	if res.Denied != nil {
		out.Denied = &deniedBody{Validator: res.Denied.Validator, Reason: res.Denied.Reason}
	}
	c.JSON(http.StatusOK, out)
}

type actorRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

func (s *Server) Cancel(c *gin.Context) {
	adv, ok := s.adventure(c)
	if !ok {
		return
	}
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := adv.Cancel(c.Request.Context(), req.ActorID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, adv.Status())
}

func (s *Server) Tick(c *gin.Context) {
	adv, ok := s.adventure(c)
	if !ok {
		return
	}
	if err := adv.OnTimerTick(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, adv.Status())
}

func (s *Server) Events(c *gin.Context) {
	adv, ok := s.adventure(c)
	if !ok {
		return
	}
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	events, err := s.Store.RecentEvents(c.Request.Context(), adv.ID(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if events == nil {
		events = []model.ResolvedEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) Memory(c *gin.Context) {
	adv, ok := s.adventure(c)
	if !ok {
		return
	}
	mem, err := s.Store.LoadMemory(c.Request.Context(), adv.ID())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mem)
}

func (s *Server) AddMember(c *gin.Context) {
	var spec core.MemberSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.badRequest(c, err)
		return
	}
	actor, err := s.Manager.Recruit(c.Request.Context(), c.Param("id"), spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, actor)
}

func (s *Server) RemoveMember(c *gin.Context) {
	adv, ok := s.adventure(c)
	if !ok {
		return
	}
	if err := adv.RemoveMember(c.Request.Context(), c.Param("actor")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, adv.Status())
}

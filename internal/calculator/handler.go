package calculator

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"calc-tracker/internal/apperr"
	"calc-tracker/internal/auth"
	"calc-tracker/internal/models"
	"calc-tracker/internal/respond"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the calculation routes on g. g must already run
// auth.Middleware.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/calculations", h.Create)
	g.GET("/calculations", h.List)
	g.GET("/calculations/:id", h.Get)
	g.PUT("/calculations/:id", h.Update)
	g.DELETE("/calculations/:id", h.Delete)
}

func (h *Handler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req Create
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.Validation("invalid request").WithCause(err))
		return
	}
	if err := req.Validate(); err != nil {
		respond.Error(c, err)
		return
	}
	if req.UserID != userID {
		respond.Error(c, apperr.Forbidden("cannot create calculations for another user"))
		return
	}

	calc, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	writeCalculation(c, calc, respond.Created)
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	calcs, err := h.svc.List(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	out := make([]Response, 0, len(calcs))
	for i := range calcs {
		resp, err := NewResponse(&calcs[i])
		if err != nil {
			respond.Error(c, computeError(err))
			return
		}
		out = append(out, resp)
	}
	respond.OK(c, out)
}

func (h *Handler) Get(c *gin.Context) {
	userID, id, ok := scoped(c)
	if !ok {
		return
	}
	calc, err := h.svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	writeCalculation(c, calc, respond.OK)
}

func (h *Handler) Update(c *gin.Context) {
	userID, id, ok := scoped(c)
	if !ok {
		return
	}
	var req Update
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, apperr.Validation("invalid request").WithCause(err))
		return
	}
	calc, err := h.svc.Update(c.Request.Context(), userID, id, req)
	if err != nil {
		respond.Error(c, err)
		return
	}
	writeCalculation(c, calc, respond.OK)
}

func (h *Handler) Delete(c *gin.Context) {
	userID, id, ok := scoped(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), userID, id); err != nil {
		respond.Error(c, err)
		return
	}
	respond.NoContent(c)
}

func writeCalculation(c *gin.Context, calc *models.Calculation, write func(*gin.Context, any)) {
	resp, err := NewResponse(calc)
	if err != nil {
		respond.Error(c, computeError(err))
		return
	}
	write(c, resp)
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		respond.Error(c, apperr.Unauthorized(""))
		return uuid.Nil, false
	}
	return userID, true
}

func scoped(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Error(c, apperr.InvalidInput("id", "not a valid UUID"))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

package auth

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"calc-tracker/internal/apperr"
	"calc-tracker/internal/respond"
)

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func RegisterHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, apperr.Validation("invalid request").WithCause(err))
			return
		}
		user, err := svc.Register(c.Request.Context(), req)
		if err != nil {
			respond.Error(c, err)
			return
		}
		respond.Created(c, UserResponse{
			ID:        user.ID,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Email:     user.Email,
			Username:  user.Username,
		})
	}
}

func LoginHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, apperr.Validation("invalid request").WithCause(err))
			return
		}
		token, err := svc.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respond.Error(c, err)
			return
		}
		respond.OK(c, TokenResponse{Token: token})
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"calc-tracker/internal/apperr"
	"calc-tracker/internal/models"
	"calc-tracker/internal/storage"
	"calc-tracker/internal/validation"
)

type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

type RegisterRequest struct {
	FirstName string `json:"first_name" validate:"required,max=50"`
	LastName  string `json:"last_name" validate:"required,max=50"`
	Email     string `json:"email" validate:"required,email,max=120"`
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Password  string `json:"password" validate:"required,min=8"`
}

// LoginRequest accepts either the username or the email in Username.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type Options struct {
	Secret   []byte
	TokenTTL time.Duration
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

type Service struct {
	db   *gorm.DB
	opts Options
}

func NewService(db *gorm.DB, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 72 * time.Hour
	}
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	return &Service{db: db, opts: opts}
}

// HashPassword hashes password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR username = ?", req.Email, req.Username).
		Count(&count).Error
	if err != nil {
		return nil, apperr.Database(err)
	}
	if count > 0 {
		return nil, apperr.AlreadyExists("user")
	}

	hash, err := HashPassword(req.Password, s.opts.Cost)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := &models.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, apperr.AlreadyExists("user")
		}
		return nil, apperr.Database(err)
	}
	return user, nil
}

// Authenticate checks the credentials and returns a signed token.
func (s *Service) Authenticate(ctx context.Context, login, password string) (string, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ? OR email = ?", login, login).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.Unauthorized("invalid login or password")
		}
		return "", apperr.Database(err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		return "", apperr.Unauthorized("invalid login or password")
	}

	return s.IssueToken(&user)
}

// IssueToken signs a token for user without checking credentials.
func (s *Service) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.opts.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.opts.Secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized("token expired").WithCause(err)
		}
		return nil, apperr.Unauthorized("invalid token").WithCause(err)
	}
	if !token.Valid || claims.UserID == uuid.Nil {
		return nil, apperr.Unauthorized("invalid token")
	}
	return claims, nil
}

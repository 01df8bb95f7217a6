package calculator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"calc-tracker/internal/apperr"
	"calc-tracker/internal/models"
)

// Service stores calculations. Every read and write is scoped to the owner;
// another user's calculation is reported as not found.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Create(ctx context.Context, req Create) (*models.Calculation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := Compute(req.Type, req.Inputs); err != nil {
		return nil, computeError(err)
	}

	var owners int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", req.UserID).Count(&owners).Error; err != nil {
		return nil, apperr.Database(err)
	}
	if owners == 0 {
		return nil, apperr.NotFound("user", req.UserID.String())
	}

	calc, err := New(req.Type, req.UserID, req.Inputs)
	if err != nil {
		return nil, computeError(err)
	}
	if err := s.db.WithContext(ctx).Create(calc).Error; err != nil {
		return nil, apperr.Database(err)
	}
	return calc, nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Calculation, error) {
	var calc models.Calculation
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&calc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("calculation", id.String())
		}
		return nil, apperr.Database(err)
	}
	return &calc, nil
}

// List returns the user's calculations, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Calculation, error) {
	calcs := []models.Calculation{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&calcs).Error
	if err != nil {
		return nil, apperr.Database(err)
	}
	return calcs, nil
}

func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, req Update) (*models.Calculation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	calc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Inputs == nil {
		return calc, nil
	}
	if _, err := Compute(Type(calc.Type), req.Inputs); err != nil {
		return nil, computeError(err)
	}

	calc.Inputs = req.Inputs
	if err := s.db.WithContext(ctx).Save(calc).Error; err != nil {
		return nil, apperr.Database(err)
	}
	return calc, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Calculation{})
	if res.Error != nil {
		return apperr.Database(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("calculation", id.String())
	}
	return nil
}

func computeError(err error) *apperr.AppError {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return apperr.InvalidInput("type", err.Error()).WithCause(err)
	case errors.Is(err, ErrTooFewInputs), errors.Is(err, ErrDivisionByZero), errors.Is(err, ErrResultOutOfRange):
		return apperr.InvalidInput("inputs", err.Error()).WithCause(err)
	default:
		return apperr.Internal(err)
	}
}

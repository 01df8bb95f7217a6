package calculator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"calc-tracker/internal/apperr"
	"calc-tracker/internal/models"
	"calc-tracker/internal/validation"
)

// Base holds the fields shared by Create and Response.
type Base struct {
	Type   Type      `json:"type" validate:"required,oneof=addition subtraction multiplication division"`
	Inputs []float64 `json:"inputs" validate:"required"`
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// Create is the request body for a new calculation.
type Create struct {
	Base
}

func (c Create) Validate() error { return validation.Struct(c) }

// Update is the request body for changing a calculation. A nil Inputs
// leaves the stored inputs untouched.
type Update struct {
	Inputs []float64 `json:"inputs"`
}

func (u Update) Validate() error { return validation.Struct(u) }

// Response is a stored calculation with its computed result.
type Response struct {
	Base
	ID        uuid.UUID `json:"id" validate:"required"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
	UpdatedAt time.Time `json:"updated_at" validate:"required"`
	Result    *float64  `json:"result" validate:"required"`
}

func (r Response) Validate() error { return validation.Struct(r) }

// NewResponse computes the result of c and builds its response shape.
func NewResponse(c *models.Calculation) (Response, error) {
	result, err := Result(c)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Base:      Base{Type: Type(c.Type), Inputs: c.Inputs, UserID: c.UserID},
		ID:        c.ID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Result:    &result,
	}, nil
}

// DecodeCreate parses and validates a create body.
func DecodeCreate(data []byte) (Create, error) {
	var c Create
	if err := decode(data, &c); err != nil {
		return Create{}, err
	}
	return c, nil
}

// DecodeUpdate parses and validates an update body.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := decode(data, &u); err != nil {
		return Update{}, err
	}
	return u, nil
}

// DecodeResponse parses and validates a response body.
func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := decode(data, &r); err != nil {
		return Response{}, err
	}
	return r, nil
}

func decode[T any](data []byte, dst *T) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.Validation(fmt.Sprintf("malformed body: %v", err)).WithCause(err)
	}
	return validation.Struct(*dst)
}

package calculator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/google/uuid"

	"calc-tracker/internal/models"
)

// Type is the arithmetic operation of a calculation.
type Type string

const (
	Addition       Type = "addition"
	Subtraction    Type = "subtraction"
	Multiplication Type = "multiplication"
	Division       Type = "division"
)

var (
	ErrUnsupportedType  = errors.New("unsupported calculation type")
	ErrTooFewInputs     = errors.New("inputs must contain at least two numbers")
	ErrDivisionByZero   = errors.New("cannot divide by zero")
	ErrResultOutOfRange = errors.New("result is not a finite number")
)

var operators = map[Type]string{
	Addition:       "+",
	Subtraction:    "-",
	Multiplication: "*",
	Division:       "/",
}

// Types lists the supported operations.
func Types() []Type {
	return []Type{Addition, Subtraction, Multiplication, Division}
}

// ParseType resolves a type name case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := operators[t]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, s)
	}
	return t, nil
}

// New builds an unsaved calculation, rejecting unknown types.
func New(t Type, userID uuid.UUID, inputs []float64) (*models.Calculation, error) {
	parsed, err := ParseType(string(t))
	if err != nil {
		return nil, err
	}
	return &models.Calculation{UserID: userID, Type: string(parsed), Inputs: inputs}, nil
}

// Result computes the result of a stored calculation.
func Result(c *models.Calculation) (float64, error) {
	return Compute(Type(c.Type), c.Inputs)
}

// Compute folds inputs left to right with the operator of t.
func Compute(t Type, inputs []float64) (float64, error) {
	op, ok := operators[t]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}

	switch t {
	case Subtraction, Division:
		if len(inputs) < 2 {
			return 0, ErrTooFewInputs
		}
	}
	if t == Division {
		for _, v := range inputs[1:] {
			if v == 0 {
				return 0, ErrDivisionByZero
			}
		}
	}

	if len(inputs) == 0 {
		if t == Multiplication {
			return 1, nil
		}
		return 0, nil
	}

	value, err := evaluate(op, inputs)
	if err != nil {
		return 0, err
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, ErrResultOutOfRange
	}
	return value, nil
}

// evaluate builds ((x0 op x1) op x2)... over named parameters so the
// expression text never embeds the numbers themselves.
func evaluate(op string, inputs []float64) (float64, error) {
	params := make(map[string]interface{}, len(inputs))
	expr := "x0"
	params["x0"] = inputs[0]
	for i := 1; i < len(inputs); i++ {
		name := fmt.Sprintf("x%d", i)
		params[name] = inputs[i]
		expr = fmt.Sprintf("(%s %s %s)", expr, op, name)
	}

	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return 0, fmt.Errorf("build expression: %w", err)
	}
	result, err := expression.Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("evaluate expression: %w", err)
	}
	value, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("evaluate expression: unexpected result type %T", result)
	}
	return value, nil
}

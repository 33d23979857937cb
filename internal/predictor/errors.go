package predictor

import (
	"errors"
	"fmt"
)

// Виды ошибок предсказания; сравниваются через errors.Is
var (
	ErrValidation  = errors.New("validation failed")
	ErrInference   = errors.New("inference failed")
	ErrUnavailable = errors.New("model unavailable")
)

// Error ошибка предсказания с указанием вида
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap отдает и вид, и исходную причину
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationError(err error) error {
	return &Error{Kind: ErrValidation, Err: err}
}

func inferenceError(err error) error {
	return &Error{Kind: ErrInference, Err: err}
}

// KindOf возвращает короткое имя вида ошибки для ответов и метрик
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInference):
		return "inference"
	default:
		return "internal"
	}
}

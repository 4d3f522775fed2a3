package catalog

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// BookInput is the editable part of a record as entered by a user.
type BookInput struct {
	Isbn     string `json:"isbn" validate:"required"`
	Title    string `json:"title" validate:"required"`
	Author   string `json:"author" validate:"required"`
	Year     int    `json:"year" validate:"min=1000"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

func (in BookInput) trimmed() BookInput {
	in.Isbn = strings.TrimSpace(in.Isbn)
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	return in
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput checks in and turns validator failures into a
// *ValidationError. skip names struct fields left out of the check.
func validateInput(v *validator.Validate, in BookInput, skip ...string) error {
	var err error
	if len(skip) > 0 {
		err = v.StructExcept(in, skip...)
	} else {
		err = v.Struct(in)
	}
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(err, "validate book")
	}
	verr := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			verr.Fields[fe.Field()] = "must not be empty"
		case "min":
			verr.Fields[fe.Field()] = "must be at least " + fe.Param()
		case "gte":
			verr.Fields[fe.Field()] = "must not be negative"
		default:
			verr.Fields[fe.Field()] = "is invalid"
		}
	}
	return verr
}

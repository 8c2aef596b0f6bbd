package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aves-app/aves/internal/errors"
)

// FieldDetail describes one rejected request field.
type FieldDetail struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationErrors carries per-field failures to the 400 response.
type ValidationErrors struct {
	Details []FieldDetail
}

func (v *ValidationErrors) Error() string {
	if len(v.Details) == 0 {
		return "invalid request"
	}
	parts := make([]string, 0, len(v.Details))
	for _, d := range v.Details {
		parts = append(parts, d.Message)
	}
	return strings.Join(parts, "; ")
}

// RequestValidator adapts validator/v10 to echo.Validator.
type RequestValidator struct {
	validate *validator.Validate
}

// NewValidator creates a validator reporting JSON field names.
func NewValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(f.Tag.Get("query"), ",", 2)[0]
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Validate implements echo.Validator.
func (rv *RequestValidator) Validate(i any) error {
	err := rv.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalid(err.Error())
	}
	ve := &ValidationErrors{Details: make([]FieldDetail, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		ve.Details = append(ve.Details, FieldDetail{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return errors.New(ve).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "gte":
		return fe.Field() + " must be at least " + fe.Param()
	case "max", "lte":
		return fe.Field() + " must be at most " + fe.Param()
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "uuid", "uuid4":
		return fe.Field() + " must be a UUID"
	case "url", "http_url":
		return fe.Field() + " must be a URL"
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}

// bindAndValidate decodes the request into req and validates it.
func bindAndValidate(ctx echo.Context, req any) error {
	if err := ctx.Bind(req); err != nil {
		return invalid("malformed request body")
	}
	if err := ctx.Validate(req); err != nil {
		return err
	}
	return nil
}

// invalid builds a validation error with a single message.
func invalid(msg string) error {
	return errors.New(&ValidationErrors{Details: []FieldDetail{{Message: msg}}}).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// invalidField builds a validation error for one field.
func invalidField(field, rule, msg string) error {
	return errors.New(&ValidationErrors{Details: []FieldDetail{{Field: field, Rule: rule, Message: msg}}}).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// pathID returns the named path parameter after checking it is a UUID.
func pathID(ctx echo.Context, name string) (string, error) {
	id := ctx.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		return "", invalidField(name, "uuid", name+" must be a UUID")
	}
	return id, nil
}

package controllers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vipogroup/vipo_backend/apperrors"
)

const msgInvalidBody = "נתוני הבקשה אינם תקינים"

// CustomValidator is the echo Validator backed by go-playground/validator.
type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return &CustomValidator{validator: v}
}

// Validate validates the request body. Failures are returned as validation
// errors listing the offending fields.
func (cv *CustomValidator) Validate(i interface{}) error {
	err := cv.validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Wrap(apperrors.KindValidation, err, msgInvalidBody)
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperrors.Wrap(apperrors.KindValidation, err, msgInvalidBody).
		WithFields(map[string]interface{}{"fields": fields})
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/engine"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// registerValidators installs the taxid rule and JSON field naming on gin's
// validator. The outcome of the first call is returned to every caller.
func registerValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		if err := v.RegisterValidation("taxid", func(fl validator.FieldLevel) bool {
			return canonical.ValidateTaxID(fl.Field().String()) == nil
		}); err != nil {
			registerErr = fmt.Errorf("register taxid validation: %w", err)
		}
	})
	return registerErr
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// bindError answers 400 for a body that failed to decode or validate. Field
// failures are reported as path -> rule.
func bindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": engine.ErrorDetail{
			Code:    engine.CodeValidation,
			Message: "malformed request body",
		}})
		return
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		fields[ns] = fe.Tag()
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error": engine.ErrorDetail{
			Code:    engine.CodeValidation,
			Message: "request validation failed",
		},
		"fields": fields,
	})
}

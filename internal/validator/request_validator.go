package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
)

// skuPattern se aplica después de pasar el SKU a mayúsculas.
var skuPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{1,63}$`)

// RequestValidator valida SKUs de entrada y los structs con tags `validate`
// (payload de extracción, catálogo).
type RequestValidator struct {
	validate *validator.Validate
}

var (
	once     sync.Once
	instance *RequestValidator
)

// Get devuelve el validator compartido. validator.Validate cachea la
// metadata de los structs, así que conviene una sola instancia.
func Get() *RequestValidator {
	once.Do(func() {
		instance = NewRequestValidator()
	})
	return instance
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// nombres de campo del json en los mensajes
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "-" || tag == "" {
			return fld.Name
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		if tag == "" {
			return fld.Name
		}
		return tag
	})

	_ = v.RegisterValidation("sku", func(fl validator.FieldLevel) bool {
		return skuPattern.MatchString(fl.Field().String())
	})

	return &RequestValidator{validate: v}
}

// NormalizeSKU limpia espacios, pasa a mayúsculas y valida el formato.
func (v *RequestValidator) NormalizeSKU(raw string) (string, error) {
	sku := strings.ToUpper(strings.TrimSpace(raw))
	if sku == "" {
		return "", apperrors.ErrInvalidSku("sku is required")
	}
	if !skuPattern.MatchString(sku) {
		return "", apperrors.ErrInvalidSku(fmt.Sprintf("sku %q must match %s", raw, skuPattern.String()))
	}
	return sku, nil
}

// ScanRequest es lo que necesita el validator de un request de scan
type ScanRequest interface {
	GetSKU() string
}

// ValidateRequest valida y normaliza el SKU del request
func (v *RequestValidator) ValidateRequest(req ScanRequest) (string, error) {
	if req == nil {
		return "", apperrors.ErrInvalidSku("request body is required")
	}
	return v.NormalizeSKU(req.GetSKU())
}

// Struct valida s con sus tags y devuelve un único error legible con todos
// los campos inválidos.
func (v *RequestValidator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return &FieldError{Fields: msgs}
}

// FieldError agrupa los campos que no pasaron la validación.
type FieldError struct {
	Fields []string
}

func (e *FieldError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	// el primer segmento es el nombre del struct raíz
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_with":
		return fmt.Sprintf("%s is required when %s is present", field, strings.ToLower(fe.Param()))
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "iso4217":
		return fmt.Sprintf("%s must be an ISO 4217 currency code, got %v", field, fe.Value())
	case "sku":
		return fmt.Sprintf("%s must match %s", field, skuPattern.String())
	case "url":
		return field + " must be a valid URL"
	case "min":
		return fmt.Sprintf("%s must have at least %s elements", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var tagNamesOnce sync.Once

// registerTagNames makes validation errors report JSON field names.
func registerTagNames() {
	tagNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

type verifyRequest struct {
	TxSig       string `json:"txSig" binding:"required"`
	Reference   string `json:"reference"`
	MinLamports *int64 `json:"minLamports" binding:"required,gte=0"`
	IsPrivate   bool   `json:"isPrivate"`
}

// fieldErrors flattens a bind error into {field: [messages]}.
func fieldErrors(err error) map[string][]string {
	out := make(map[string][]string)
	add := func(field, msg string) { out[field] = append(out[field], msg) }

	var verrs validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &verrs):
		for _, fe := range verrs {
			add(fe.Field(), validationMessage(fe))
		}
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		add(field, fmt.Sprintf("Expected %s, received %s", kindName(typeErr.Type), typeErr.Value))
	case errors.As(err, &syntaxErr):
		add("body", "Malformed JSON")
	default:
		add("body", "Expected a JSON object")
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "txSig" {
			return "txSig is required"
		}
		return "Required"
	case "gte":
		return "Number must be greater than or equal to " + fe.Param()
	default:
		return "Invalid value"
	}
}

func kindName(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	default:
		return "object"
	}
}

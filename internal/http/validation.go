package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var fieldMessages = map[string]string{
	"productId": "Invalid product ID format",
	"quantity":  "Quantity must be a positive integer",
}

// itemRequest is the body of add and update.
type itemRequest struct {
	ProductID string `json:"productId" validate:"required,objectid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type productParam struct {
	ProductID string `json:"productId" validate:"required,objectid"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
		return primitive.IsValidObjectID(fl.Field().String())
	})
	return v
}

// validationMessage turns the first failed field into the message shown to the client.
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		if msg, ok := fieldMessages[errs[0].Field()]; ok {
			return msg
		}
		return errs[0].Error()
	}
	return msgInvalidBody
}

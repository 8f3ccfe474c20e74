package api

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// AppValidator wraps go-playground/validator for echo's Validate hook.
type AppValidator struct {
	validate *validator.Validate
}

func NewAppValidator() *AppValidator {
	return &AppValidator{validate: validator.New()}
}

func (v *AppValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		if ves, ok := err.(validator.ValidationErrors); ok && len(ves) > 0 {
			fe := ves[0]
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("field %q failed on %q validation", fe.Field(), fe.Tag()))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

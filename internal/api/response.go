package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response is the JSON envelope every endpoint returns.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func dataResponse(c echo.Context, status int, message string, data any) error {
	if message == "" {
		message = http.StatusText(status)
	}
	return c.JSON(status, Response{Status: status, Message: message, Data: data})
}

func successResponse(c echo.Context, data any) error {
	return dataResponse(c, http.StatusOK, "", data)
}

func messageResponse(c echo.Context, message string) error {
	return dataResponse(c, http.StatusOK, message, nil)
}

func errorResponse(c echo.Context, status int, err error) error {
	return dataResponse(c, status, err.Error(), nil)
}

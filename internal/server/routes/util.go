package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/quill/internal/server/middleware"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

type errorResponse struct {
	Message string `json:"message"`
}

func appOf(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}

// param returns the unescaped path parameter name.
func param(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// collectionIndexer resolves the :collection path parameter.
func collectionIndexer(c echo.Context) (*indexer.Indexer, error) {
	return appOf(c).Registry.Get(param(c, "collection"))
}

// bindBody binds and validates the request body into data. A non-nil
// error is meant for a 400 response.
func bindBody(c echo.Context, data any) error {
	if err := c.Bind(data); err != nil {
		return errors.New("Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return fmt.Errorf("Invalid request body: %s", err.Error())
	}
	return nil
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
}

// failure maps an operation error to a status code. Caller errors become
// 400; everything else is logged and reported as 500.
func failure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Message: "Operation timed out"})
	case errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Request cancelled"})
	}
	logger.Error("[Server] Request failed", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
}

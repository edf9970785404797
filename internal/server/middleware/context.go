package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

// Publisher is the part of an AMQP channel the handlers use to hand
// ingestion jobs to the worker.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type App struct {
	Registry *indexer.Registry
	// Queue is nil when no broker is configured; asynchronous ingestion
	// is then rejected.
	Queue Publisher
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{Context: c, App: app})
		}
	}
}

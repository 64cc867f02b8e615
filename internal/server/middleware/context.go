// Package middleware carries the request context shared by all API
// handlers plus the authentication and permission checks in front of
// them.
package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/graphloom/loom/pkg/query"
	"github.com/graphloom/loom/pkg/store"
)

// AppUser identifies the authenticated caller once AuthMiddleware ran.
type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// App bundles the long-lived dependencies handlers reach for. It is
// built once at startup and shared across requests.
type App struct {
	Store store.GraphStore
	Query *query.Service
	Queue *amqp091.Channel

	// Publish enqueues a message on the named queue. Wired to the
	// broker in production, replaceable in handler tests.
	Publish func(queueName string, data []byte) error

	Key            *keyfunc.Keyfunc
	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

// AppContextMiddleware wraps every request in an AppContext carrying
// the shared application dependencies. User stays nil until
// AuthMiddleware fills it in.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/i474232898/air-quality-aggregation/internal/airquality"
	"github.com/i474232898/air-quality-aggregation/internal/airquality/openaq"
	"github.com/i474232898/air-quality-aggregation/internal/directory"
)

const serviceName = "air-quality-aggregation"

// Aggregator serves city aggregates.
type Aggregator interface {
	Aggregate(ctx context.Context, req airquality.AggregateRequest) (airquality.CityResponse, error)
}

// Cities is the city directory.
type Cities interface {
	List() []directory.City
	Lookup(name string) (directory.City, error)
}

// Forwarder relays raw requests to the upstream API.
type Forwarder interface {
	Forward(ctx context.Context, method, path, rawQuery, accept string) (*openaq.ForwardResponse, error)
}

// Deps are the collaborators behind the HTTP routes. Directory, Proxy and
// Metrics are optional; their routes are not registered when nil.
type Deps struct {
	Service   Aggregator
	Directory Cities
	Proxy     Forwarder
	Metrics   http.Handler

	// AllowOrigins is the CORS origin list ("*" when empty).
	AllowOrigins string
	AccessLog    bool
}

// NewApp builds a Fiber app with the shared error handler, middleware and routes.
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
	})

	app.Use(recover.New())
	if deps.AccessLog {
		app.Use(logger.New())
	}
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: defaultString(deps.AllowOrigins, "*"),
		AllowMethods: "GET, HEAD, POST, OPTIONS",
		AllowHeaders: "Content-Type, Accept",
		MaxAge:       86400,
	}))

	RegisterRoutes(app, deps)
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"ok":      true,
			"service": serviceName,
		})
	})

	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	v1 := app.Group("/api/v1")

	v1.Post("/aggregate", func(c *fiber.Ctx) error {
		var req airquality.AggregateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		resp, err := deps.Service.Aggregate(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	if deps.Directory != nil {
		v1.Get("/cities", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"cities": deps.Directory.List()})
		})

		v1.Get("/cities/:city/aggregate", func(c *fiber.Ctx) error {
			city, err := deps.Directory.Lookup(c.Params("city"))
			if err != nil {
				if errors.Is(err, directory.ErrCityNotFound) {
					return fiber.NewError(fiber.StatusNotFound, "unknown city")
				}
				return err
			}

			resp, err := deps.Service.Aggregate(c.UserContext(), city.Request())
			if err != nil {
				return err
			}
			return c.JSON(resp)
		})
	}

	if deps.Proxy != nil {
		app.All("/v3/*", proxyHandler(deps.Proxy))
	}

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	})
}

func proxyHandler(proxy Forwarder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodOptions:
			return c.SendStatus(fiber.StatusNoContent)
		case fiber.MethodGet, fiber.MethodHead:
		default:
			return fiber.NewError(fiber.StatusMethodNotAllowed, "Method not allowed")
		}

		resp, err := proxy.Forward(c.UserContext(), c.Method(), c.Path(), string(c.Request().URI().QueryString()), c.Get(fiber.HeaderAccept))
		if err != nil {
			return err
		}

		for name, values := range resp.Header {
			if skipProxyHeader(name) {
				continue
			}
			for _, v := range values {
				c.Append(name, v)
			}
		}
		c.Set(fiber.HeaderContentType, defaultString(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON))
		return c.Status(resp.StatusCode).Send(resp.Body)
	}
}

// Hop-by-hop headers, headers the server computes itself and upstream CORS
// headers, which would clash with ours.
var skippedProxyHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
	"Content-Encoding":    {},
	"Content-Type":        {},
	"Date":                {},
	"Server":              {},
}

func skipProxyHeader(name string) bool {
	name = http.CanonicalHeaderKey(name)
	if strings.HasPrefix(name, "Access-Control-") {
		return true
	}
	_, ok := skippedProxyHeaders[name]
	return ok
}

// ErrorHandler renders every error as {"error": message}, adding the
// upstream retry hint as both a field and a Retry-After header.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	body := fiber.Map{}
	status := fiber.StatusInternalServerError
	switch e := airquality.Classify(err).(type) {
	case *airquality.ValidationError:
		status = e.Status
		body["error"] = e.Message
	case *airquality.UpstreamError:
		status = e.Status
		body["error"] = e.Message
		if e.RetryAfter.Valid {
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(e.RetryAfter.Int64, 10))
			body["retryAfter"] = e.RetryAfter.Int64
		}
	default:
		body["error"] = "internal server error"
	}
	return c.Status(status).JSON(body)
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

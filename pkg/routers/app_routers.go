package routers

import (
	"io"
	"runtime"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	rr "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/factory"
	"github.com/mynaparrot/v2tic-server/version"
)

type router struct {
	app  *fiber.App
	ctrl *factory.ApplicationControllers
}

func New(appConfig *config.AppConfig, ctrl *factory.ApplicationControllers) *fiber.App {
	cnf := fiber.Config{
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
		AppName:     "v2tic version: " + version.Version + " runtime: " + runtime.Version(),
		BodyLimit:   appConfig.Https.BodyLimit,
		// profiles see the header names as the depositor sent them
		DisableHeaderNormalizing: true,
		DisableStartupMessage:    true,
	}

	if appConfig.Https.ProxyHeader != "" {
		cnf.ProxyHeader = appConfig.Https.ProxyHeader
	}

	app := fiber.New(cnf)

	app.Use(logger.New(logger.Config{
		Done: func(c *fiber.Ctx, logString []byte) {
			appConfig.Logger.Debugln(string(logString))
		},
		Format: "${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}",
		Output: io.Discard,
	}))

	if appConfig.Https.PrometheusConf.Enable {
		prometheus := fiberprometheus.New("v2tic")
		prometheus.RegisterAt(app, appConfig.Https.PrometheusConf.MetricsPath)
		app.Use(prometheus.Middleware)
	}

	app.Use(rr.New())

	r := &router{
		app:  app,
		ctrl: ctrl,
	}
	r.registerRoutes()

	// must stay the last handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).SendString("not found")
	})

	return app
}

func (r *router) registerRoutes() {
	r.app.Post("/transcribe", r.ctrl.TranscribeController.HandleTranscribe)
	r.app.Put("/transcribe", r.ctrl.TranscribeController.HandleTranscribe)
	r.app.Post("/response", r.ctrl.ResponseStubController.HandleResponse)
	r.app.Get("/healthCheck", r.ctrl.HealthCheckController.HandleHealthCheck)
}

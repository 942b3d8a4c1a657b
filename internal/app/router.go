package app

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/makeasinger/videogen/internal/handler"
	"github.com/makeasinger/videogen/internal/middleware"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/pkg/response"
)

// Router builds the HTTP and websocket surface of the service.
func (a *App) Router() *fiber.App {
	validate := validator.New()
	videoHandler := handler.NewVideoHandler(a.Service, validate)
	rateLimiter := middleware.NewRateLimiter(a.Redis, a.Logger)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"store":     a.Config.Store.Driver,
			"dispatch":  a.Config.Dispatch.Mode,
			"services":  a.Services,
		})
	})

	api := app.Group("/api")
	if a.Config.Auth.Enabled {
		auth := middleware.NewAuthMiddleware(a.Config.JWT.Secret).Authenticate()
		api.Use(auth)
		app.Use("/ws", auth)
	}

	videos := api.Group("/videos")
	videos.Post("/", rateLimiter.CreateLimit(a.Config.RateLimit.CreatePerHour), videoHandler.Create)
	videos.Get("/:videoId/status", videoHandler.Status)
	videos.Get("/:videoId", videoHandler.Get)
	videos.Post("/:videoId/start", videoHandler.Start)
	videos.Post("/:videoId/cancel", videoHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/videos/:videoId", websocket.New(func(c *websocket.Conn) {
		videoID := c.Params("videoId")

		var current *model.ProgressRecord
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if rec, err := a.Service.GetProgress(ctx, videoID); err == nil {
			current = &rec
		}
		cancel()

		a.Hub.HandleConnection(c, videoID, current)
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}

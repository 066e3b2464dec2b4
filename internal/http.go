package internal

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/guildgallery/guildgallery_server/internal/feed"
	"github.com/guildgallery/guildgallery_server/internal/gallery"
	"github.com/guildgallery/guildgallery_server/internal/health"
	"github.com/guildgallery/guildgallery_server/internal/middleware"
	"github.com/guildgallery/guildgallery_server/internal/session"
)

func NewRequestHandler(config *Config, sessionEndpoints *session.Endpoints, galleryEndpoints *gallery.Endpoints, healthEndpoints *health.HealthEndpoints, feedHandler *feed.Handler) fasthttp.RequestHandler {
	corsMiddleware := middleware.NewCORSMiddleware(config.Server.AllowedOrigins)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch {
		case path == "/health":
			healthEndpoints.Health(ctx)

		case path == "/uploads/initiate":
			method := string(ctx.Method())
			if method == "POST" {
				sessionEndpoints.Initiate(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == "/uploads/chunk":
			method := string(ctx.Method())
			if method == "POST" {
				sessionEndpoints.UploadChunk(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == "/uploads/finalize":
			method := string(ctx.Method())
			if method == "POST" {
				sessionEndpoints.Finalize(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/uploads/") && strings.HasSuffix(path, "/progress"):
			parts := strings.Split(path, "/")
			if len(parts) == 4 && parts[3] == "progress" {
				ctx.SetUserValue("uploadID", parts[2])
				sessionEndpoints.Progress(ctx)
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}
		case strings.HasPrefix(path, "/uploads/"):
			parts := strings.Split(path, "/")
			if len(parts) == 3 {
				ctx.SetUserValue("uploadID", parts[2])
				method := string(ctx.Method())
				if method == "DELETE" {
					sessionEndpoints.Cancel(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case strings.HasPrefix(path, "/galleries/") && strings.HasSuffix(path, "/files"):
			parts := strings.Split(path, "/")
			if len(parts) == 5 && parts[4] == "files" {
				ctx.SetUserValue("guildID", parts[2])
				ctx.SetUserValue("galleryName", parts[3])
				method := string(ctx.Method())
				if method == "GET" {
					galleryEndpoints.ListFiles(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/ws":
			feedHandler.HandleFastHTTP(ctx)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}

package gallery

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	repo Repository
}

func NewEndpoints(repo Repository) *Endpoints {
	return &Endpoints{repo: repo}
}

func (e *Endpoints) ListFiles(ctx *fasthttp.RequestCtx) {
	guildID, _ := ctx.UserValue("guildID").(string)
	galleryName, _ := ctx.UserValue("galleryName").(string)
	if guildID == "" || galleryName == "" {
		ctx.Error("guildId and galleryName are required", fasthttp.StatusBadRequest)
		return
	}

	files, err := e.repo.ListByGallery(guildID, galleryName)
	if err != nil {
		log.Error().Err(err).Str("guildId", guildID).Msg("[GALLERY] Failed to list files")
		ctx.Error("Failed to list gallery files", fasthttp.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []*GalleryFile{}
	}

	payload, err := json.Marshal(files)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(payload)
}

package session

import (
	"errors"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	service *Service
}

func NewEndpoints(service *Service) *Endpoints {
	return &Endpoints{service: service}
}

// ErrorResponse is the body of every rejected upload call. Code lets
// clients rebuild the typed error; missingParts travels with incomplete
// finalize rejections so a resume can target only the gaps.
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	MissingParts []int  `json:"missingParts,omitempty"`
}

func (e *Endpoints) Initiate(ctx *fasthttp.RequestCtx) {
	var req InitiateRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, &ValidationError{Reason: "invalid request body"})
		return
	}

	resp, err := e.service.Initiate(ctx, &req)
	if err != nil {
		writeError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusCreated, resp)
}

func (e *Endpoints) UploadChunk(ctx *fasthttp.RequestCtx) {
	uploadID := string(ctx.QueryArgs().Peek("uploadId"))
	if uploadID == "" {
		writeError(ctx, &ValidationError{Reason: "uploadId is required"})
		return
	}

	index, err := strconv.Atoi(string(ctx.QueryArgs().Peek("index")))
	if err != nil {
		writeError(ctx, &ValidationError{Reason: "index must be an integer"})
		return
	}

	resp, err := e.service.UploadChunk(ctx, uploadID, index, ctx.PostBody())
	if err != nil {
		writeError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (e *Endpoints) Finalize(ctx *fasthttp.RequestCtx) {
	var req FinalizeRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, &ValidationError{Reason: "invalid request body"})
		return
	}
	if req.UploadID == "" {
		writeError(ctx, &ValidationError{Reason: "uploadId is required"})
		return
	}

	resp, err := e.service.Finalize(ctx, req.UploadID)
	if err != nil {
		writeError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (e *Endpoints) Cancel(ctx *fasthttp.RequestCtx) {
	uploadID, ok := ctx.UserValue("uploadID").(string)
	if !ok || uploadID == "" {
		writeError(ctx, &ValidationError{Reason: "uploadId is required"})
		return
	}

	if err := e.service.Cancel(ctx, uploadID); err != nil {
		writeError(ctx, err)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) Progress(ctx *fasthttp.RequestCtx) {
	uploadID, ok := ctx.UserValue("uploadID").(string)
	if !ok || uploadID == "" {
		writeError(ctx, &ValidationError{Reason: "uploadId is required"})
		return
	}

	resp, err := e.service.Progress(uploadID)
	if err != nil {
		writeError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(payload)
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := fasthttp.StatusInternalServerError

	var validationErr *ValidationError
	var notFoundErr *SessionNotFoundError
	var incompleteErr *IncompleteUploadError
	var storageErr *StorageError
	var stateErr *StateError

	switch {
	case errors.As(err, &validationErr):
		status = fasthttp.StatusBadRequest
		resp.Code = ErrCodeValidation
	case errors.As(err, &notFoundErr):
		status = fasthttp.StatusNotFound
		resp.Code = ErrCodeNotFound
	case errors.As(err, &incompleteErr):
		status = fasthttp.StatusConflict
		resp.Code = ErrCodeIncomplete
		resp.MissingParts = incompleteErr.MissingParts
	case errors.As(err, &stateErr):
		status = fasthttp.StatusConflict
		resp.Code = ErrCodeState
	case errors.As(err, &storageErr):
		status = fasthttp.StatusInternalServerError
		resp.Code = ErrCodeStorage
	default:
		log.Error().Err(err).Msg("[SESSION] Unexpected error")
	}

	payload, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(payload)
}

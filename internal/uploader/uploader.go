package uploader

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/guildgallery/guildgallery_server/internal/progress"
	"github.com/guildgallery/guildgallery_server/internal/session"
)

// Uploader composes the pipeline into one call: plan chunks, transmit,
// finalize, keep the progress store current. Every terminal failure both
// updates the visible record and reaches the caller; nothing is
// swallowed.
type Uploader struct {
	client      *Client
	store       *progress.Store
	chunkSize   int64
	policy      RetryPolicy
	concurrency int
}

type Config struct {
	ChunkSize   int64
	Policy      RetryPolicy
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:   1024 * 1024,
		Policy:      DefaultRetryPolicy(),
		Concurrency: 1,
	}
}

func New(client *Client, store *progress.Store, config Config) *Uploader {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1024 * 1024
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Policy.MaxAttempts <= 0 {
		config.Policy = DefaultRetryPolicy()
	}
	return &Uploader{
		client:      client,
		store:       store,
		chunkSize:   config.ChunkSize,
		policy:      config.Policy,
		concurrency: config.Concurrency,
	}
}

// Upload runs the full pipeline and returns the final storage path.
func (u *Uploader) Upload(ctx context.Context, guildID, galleryName, fileName, fileType string, source io.ReaderAt, totalSize int64) (string, error) {
	chunks, err := NewFileChunks(source, totalSize, u.chunkSize)
	if err != nil {
		return "", err
	}

	initResp, err := u.client.Initiate(ctx, &session.InitiateRequest{
		FileName:    fileName,
		FileType:    fileType,
		GalleryName: galleryName,
		TotalSize:   totalSize,
		GuildID:     guildID,
	})
	if err != nil {
		return "", err
	}
	uploadID := initResp.UploadID

	u.store.AddUpload(uploadID, fileName, galleryName, guildID)
	u.store.SetJobID(uploadID, uploadID)

	log.Info().
		Str("uploadId", uploadID).
		Str("file", fileName).
		Int("parts", chunks.NumParts()).
		Msg("[UPLOAD] Transmission starting")

	if err := u.transmit(ctx, uploadID, chunks, nil); err != nil {
		u.store.FailUpload(uploadID, err.Error())
		return "", err
	}

	path, err := u.client.Finalize(ctx, uploadID)
	if err != nil {
		u.store.FailUpload(uploadID, err.Error())
		return "", err
	}

	u.store.CompleteUpload(uploadID)
	log.Info().Str("uploadId", uploadID).Str("filePath", path).Msg("[UPLOAD] Completed")
	return path, nil
}

// Resume retries a partially transmitted upload: a finalize attempt
// reports which parts are missing, Resume sends only those and then
// finalizes again.
func (u *Uploader) Resume(ctx context.Context, uploadID string, source io.ReaderAt, totalSize int64) (string, error) {
	chunks, err := NewFileChunks(source, totalSize, u.chunkSize)
	if err != nil {
		return "", err
	}

	path, err := u.client.Finalize(ctx, uploadID)
	if err == nil {
		u.store.CompleteUpload(uploadID)
		return path, nil
	}

	var incomplete *session.IncompleteUploadError
	if !errors.As(err, &incomplete) {
		u.store.FailUpload(uploadID, err.Error())
		return "", err
	}

	log.Info().
		Str("uploadId", uploadID).
		Ints("missingParts", incomplete.MissingParts).
		Msg("[UPLOAD] Resuming missing parts")

	if err := u.transmit(ctx, uploadID, chunks, incomplete.MissingParts); err != nil {
		u.store.FailUpload(uploadID, err.Error())
		return "", err
	}

	path, err = u.client.Finalize(ctx, uploadID)
	if err != nil {
		u.store.FailUpload(uploadID, err.Error())
		return "", err
	}

	u.store.CompleteUpload(uploadID)
	return path, nil
}

// Cancel aborts the upload server-side and marks the record failed.
func (u *Uploader) Cancel(ctx context.Context, uploadID string) error {
	if err := u.client.Cancel(ctx, uploadID); err != nil {
		return err
	}
	u.store.FailUpload(uploadID, "cancelled")
	return nil
}

func (u *Uploader) transmit(ctx context.Context, uploadID string, chunks *FileChunks, parts []int) error {
	transmitter := NewTransmitter(u.client, u.policy, u.concurrency)
	total := chunks.TotalSize()

	return transmitter.Transmit(ctx, uploadID, chunks, parts, func(sentBytes int64) {
		u.store.UpdateProgress(uploadID, int(sentBytes*100/total))
	})
}

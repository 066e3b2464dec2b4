package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/guildgallery/guildgallery_server/internal/gallery"
	"github.com/guildgallery/guildgallery_server/internal/storage"
)

// ProgressPublisher receives a progress event for every accepted state
// change. Implemented by the websocket feed hub; may be nil.
type ProgressPublisher interface {
	PublishProgress(uploadID string, percentage int, status string)
}

// Service is the upload session state machine. Status only advances
// forward, except into cancelled which is reachable from any non-terminal
// state. Terminal sessions are immutable.
type Service struct {
	store       *Store
	backend     storage.Backend
	galleries   gallery.Repository
	publisher   ProgressPublisher
	maxFileSize int64
	chunkSize   int64
}

func NewService(store *Store, backend storage.Backend, galleries gallery.Repository, publisher ProgressPublisher, maxFileSize, chunkSize int64) *Service {
	if maxFileSize <= 0 {
		maxFileSize = 500 * 1024 * 1024
	}
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}
	service := &Service{
		store:       store,
		backend:     backend,
		galleries:   galleries,
		publisher:   publisher,
		maxFileSize: maxFileSize,
		chunkSize:   chunkSize,
	}
	store.OnEvict(service.reclaimExpired)
	return service
}

// reclaimExpired releases the buffered parts of a session the store
// evicted, so abandoned uploads do not leak part objects in the backend.
func (s *Service) reclaimExpired(sess *UploadSession) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	s.releaseParts(context.Background(), sess)
	log.Debug().Str("uploadId", sess.ID).Msg("[SESSION] Expired session parts released")
}

func (s *Service) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	if req.GuildID == "" {
		return nil, &ValidationError{Reason: "guildId is required"}
	}
	if req.GalleryName == "" {
		return nil, &ValidationError{Reason: "galleryName is required"}
	}
	if req.FileName == "" {
		return nil, &ValidationError{Reason: "fileName is required"}
	}
	if req.TotalSize <= 0 {
		return nil, &ValidationError{Reason: "totalSize must be positive"}
	}
	if req.TotalSize > s.maxFileSize {
		return nil, &ValidationError{Reason: fmt.Sprintf("totalSize %d exceeds limit %d", req.TotalSize, s.maxFileSize)}
	}

	id := uuid.NewString()
	sess := &UploadSession{
		ID:          id,
		FileName:    req.FileName,
		FileType:    req.FileType,
		GalleryName: req.GalleryName,
		GuildID:     req.GuildID,
		TotalSize:   req.TotalSize,
		Parts:       make(map[int]int64),
		Status:      StatusInitiated,
		StoragePath: buildStoragePath(req.GuildID, req.GalleryName, id, req.FileName),
	}
	s.store.Create(sess)

	log.Info().
		Str("uploadId", id).
		Str("guildId", req.GuildID).
		Str("gallery", req.GalleryName).
		Int64("totalSize", req.TotalSize).
		Msg("[SESSION] Upload initiated")

	s.publish(id, 0, StatusInitiated)

	return &InitiateResponse{
		UploadID:  id,
		ChunkSize: s.chunkSize,
		ExpiresAt: sess.ExpiresAt.Unix(),
	}, nil
}

// UploadChunk records one part. Re-sending a part number overwrites the
// previous bytes, so received bytes never double-count.
func (s *Service) UploadChunk(ctx context.Context, uploadID string, partNumber int, data []byte) (*ChunkResponse, error) {
	if partNumber < 1 {
		return nil, &ValidationError{Reason: "part number must be a positive integer"}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "chunk body is empty"}
	}

	var resp *ChunkResponse
	err := s.store.Update(uploadID, func(sess *UploadSession) error {
		if err := rejectTerminal(sess); err != nil {
			return err
		}
		if sess.Status != StatusInitiated && sess.Status != StatusUploading {
			return &StateError{UploadID: uploadID, Status: sess.Status}
		}

		prospective := sess.ReceivedBytes() - sess.Parts[partNumber] + int64(len(data))
		if prospective > sess.TotalSize {
			return &ValidationError{Reason: fmt.Sprintf("part %d overflows announced total size %d", partNumber, sess.TotalSize)}
		}

		if err := s.backend.Store(ctx, partPath(sess.StoragePath, partNumber), bytes.NewReader(data)); err != nil {
			return &StorageError{Op: "chunk write", Err: err}
		}

		sess.Parts[partNumber] = int64(len(data))
		if sess.Status == StatusInitiated {
			sess.Status = StatusUploading
		}

		resp = &ChunkResponse{
			UploadID:   uploadID,
			PartNumber: partNumber,
			Percentage: sess.Percentage(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("uploadId", uploadID).
		Int("part", partNumber).
		Int("percentage", resp.Percentage).
		Msg("[SESSION] Chunk received")

	s.publish(uploadID, resp.Percentage, StatusUploading)
	return resp, nil
}

// Finalize assembles all received parts into the destination object and
// records the gallery file. Requires parts 1..N present and their sizes
// summing to the announced total.
func (s *Service) Finalize(ctx context.Context, uploadID string) (*FinalizeResponse, error) {
	var filePath string
	err := s.store.Update(uploadID, func(sess *UploadSession) error {
		if err := rejectTerminal(sess); err != nil {
			return err
		}
		if sess.Status == StatusFinalizing {
			return &StateError{UploadID: uploadID, Status: sess.Status}
		}
		if !sess.Complete() {
			return &IncompleteUploadError{
				UploadID:      uploadID,
				MissingParts:  sess.MissingParts(),
				ReceivedBytes: sess.ReceivedBytes(),
				TotalSize:     sess.TotalSize,
			}
		}

		sess.Status = StatusFinalizing

		if err := s.assemble(ctx, sess); err != nil {
			sess.Status = StatusFailed
			sess.FailReason = err.Error()
			log.Error().Err(err).Str("uploadId", uploadID).Msg("[SESSION] Finalize failed")
			return err
		}

		s.releaseParts(ctx, sess)
		sess.Status = StatusCompleted
		filePath = sess.StoragePath
		return nil
	})
	if err != nil {
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			s.publish(uploadID, 0, StatusFailed)
		}
		return nil, err
	}

	log.Info().
		Str("uploadId", uploadID).
		Str("filePath", filePath).
		Msg("[SESSION] Upload completed")

	s.publish(uploadID, 100, StatusCompleted)
	return &FinalizeResponse{FilePath: filePath}, nil
}

// Cancel moves any non-terminal session to cancelled and releases its
// buffered parts. Idempotent on an already-cancelled session.
func (s *Service) Cancel(ctx context.Context, uploadID string) error {
	cancelled := false
	err := s.store.Update(uploadID, func(sess *UploadSession) error {
		if sess.Status == StatusCancelled {
			return nil
		}
		if sess.Status.Terminal() {
			return &StateError{UploadID: uploadID, Status: sess.Status}
		}

		s.releaseParts(ctx, sess)
		sess.Parts = make(map[int]int64)
		sess.Status = StatusCancelled
		cancelled = true
		return nil
	})
	if err != nil {
		return err
	}

	if cancelled {
		log.Info().Str("uploadId", uploadID).Msg("[SESSION] Upload cancelled")
		s.publish(uploadID, 0, StatusCancelled)
	}
	return nil
}

// Progress reports the session as the read-only job projection the
// background worker polls.
func (s *Service) Progress(uploadID string) (*ProgressResponse, error) {
	var resp *ProgressResponse
	err := s.store.View(uploadID, func(sess *UploadSession) error {
		resp = &ProgressResponse{
			UploadID:   uploadID,
			Percentage: sess.Percentage(),
			Status:     sess.Status,
			Error:      sess.FailReason,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) assemble(ctx context.Context, sess *UploadSession) error {
	maxPart := len(sess.Parts)

	var combined bytes.Buffer
	combined.Grow(int(sess.TotalSize))

	for n := 1; n <= maxPart; n++ {
		reader, err := s.backend.Get(ctx, partPath(sess.StoragePath, n))
		if err != nil {
			return &StorageError{Op: fmt.Sprintf("read part %d", n), Err: err}
		}
		_, err = io.Copy(&combined, reader)
		reader.Close()
		if err != nil {
			return &StorageError{Op: fmt.Sprintf("combine part %d", n), Err: err}
		}
	}

	if err := s.backend.Store(ctx, sess.StoragePath, bytes.NewReader(combined.Bytes())); err != nil {
		return &StorageError{Op: "assembled write", Err: err}
	}

	record := &gallery.GalleryFile{
		ID:          sess.ID,
		GuildID:     sess.GuildID,
		GalleryName: sess.GalleryName,
		FileName:    sess.FileName,
		FileType:    sess.FileType,
		SizeBytes:   sess.TotalSize,
		StoragePath: sess.StoragePath,
	}
	if err := s.galleries.Create(record); err != nil {
		s.backend.Delete(ctx, sess.StoragePath)
		return &StorageError{Op: "gallery record", Err: err}
	}

	return nil
}

func (s *Service) releaseParts(ctx context.Context, sess *UploadSession) {
	for n := range sess.Parts {
		if err := s.backend.Delete(ctx, partPath(sess.StoragePath, n)); err != nil {
			log.Warn().Err(err).Str("uploadId", sess.ID).Int("part", n).Msg("[SESSION] Failed to release part")
		}
	}
}

func (s *Service) publish(uploadID string, percentage int, status Status) {
	if s.publisher != nil {
		s.publisher.PublishProgress(uploadID, percentage, string(status))
	}
}

// rejectTerminal maps mutation attempts on dead sessions: cancelled looks
// like an unknown session to callers, completed/failed answer with the
// state they are stuck in.
func rejectTerminal(sess *UploadSession) error {
	switch sess.Status {
	case StatusCancelled:
		return &SessionNotFoundError{UploadID: sess.ID}
	case StatusCompleted, StatusFailed:
		return &StateError{UploadID: sess.ID, Status: sess.Status}
	}
	return nil
}

func partPath(storagePath string, partNumber int) string {
	return fmt.Sprintf("%s.part.%d", storagePath, partNumber)
}

func buildStoragePath(guildID, galleryName, uploadID, fileName string) string {
	ext := filepath.Ext(fileName)
	return fmt.Sprintf("%s/%s/%s%s", guildID, galleryName, uploadID, ext)
}

package session

import (
	"sync"
	"time"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusUploading  Status = "uploading"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// UploadSession tracks one file's upload-in-progress. The server owns the
// truth; clients only ever see projections of it through the progress
// endpoint. Parts maps part number (1-based) to received byte length.
type UploadSession struct {
	ID          string
	FileName    string
	FileType    string
	GalleryName string
	GuildID     string
	TotalSize   int64
	Parts       map[int]int64
	Status      Status
	StoragePath string
	FailReason  string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	mu sync.Mutex
}

func (s *UploadSession) ReceivedBytes() int64 {
	var total int64
	for _, size := range s.Parts {
		total += size
	}
	return total
}

// Percentage is receivedBytes/totalSize*100 rounded down.
func (s *UploadSession) Percentage() int {
	if s.TotalSize <= 0 {
		return 0
	}
	if s.Status == StatusCompleted {
		return 100
	}
	return int(s.ReceivedBytes() * 100 / s.TotalSize)
}

// MissingParts returns the part numbers absent from 1..max(received).
// A session with no parts at all reports part 1 as missing.
func (s *UploadSession) MissingParts() []int {
	maxPart := 0
	for n := range s.Parts {
		if n > maxPart {
			maxPart = n
		}
	}
	if maxPart == 0 {
		return []int{1}
	}

	var missing []int
	for n := 1; n <= maxPart; n++ {
		if _, ok := s.Parts[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Complete reports whether parts 1..N are all present and their sizes sum
// to the announced total.
func (s *UploadSession) Complete() bool {
	return len(s.MissingParts()) == 0 && s.ReceivedBytes() == s.TotalSize
}

type InitiateRequest struct {
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	GalleryName string `json:"galleryName"`
	TotalSize   int64  `json:"totalSize"`
	GuildID     string `json:"guildId"`
}

type InitiateResponse struct {
	UploadID  string `json:"uploadId"`
	ChunkSize int64  `json:"chunkSize"`
	ExpiresAt int64  `json:"expiresAt"`
}

type ChunkResponse struct {
	UploadID   string `json:"uploadId"`
	PartNumber int    `json:"partNumber"`
	Percentage int    `json:"percentage"`
}

type FinalizeRequest struct {
	UploadID string `json:"uploadId"`
}

type FinalizeResponse struct {
	FilePath string `json:"filePath"`
}

type ProgressResponse struct {
	UploadID   string `json:"uploadId"`
	Percentage int    `json:"percentage"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
}

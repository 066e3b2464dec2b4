package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the visible state of one upload, a projection of the
// server-owned session. It may lag the server briefly; reconciliation
// always flows server to client.
type Record struct {
	UploadID    string    `json:"uploadId"`
	FileName    string    `json:"fileName"`
	GalleryName string    `json:"galleryName"`
	GuildID     string    `json:"guildId"`
	Percentage  int       `json:"percentage"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	JobID       string    `json:"jobId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store is the process-wide registry of in-flight and finished uploads.
// It is an explicitly constructed object handed to call sites, not a
// singleton. With persistence enabled every mutation schedules a
// debounced snapshot so a restart mid-upload keeps visible progress.
type Store struct {
	mu        sync.Mutex
	records   map[string]*Record
	persister *persister
}

func NewStore(snapshotDir string) *Store {
	return &Store{
		records:   make(map[string]*Record),
		persister: newPersister(snapshotDir),
	}
}

func (s *Store) AddUpload(uploadID, fileName, galleryName, guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.records[uploadID] = &Record{
		UploadID:    uploadID,
		FileName:    fileName,
		GalleryName: galleryName,
		GuildID:     guildID,
		Percentage:  0,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.scheduleSnapshotLocked()
}

// UpdateProgress is monotonic: a lower percentage than already recorded
// is ignored, and terminal records never move.
func (s *Store) UpdateProgress(uploadID string, percentage int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[uploadID]
	if !ok || record.Status.Terminal() {
		return
	}
	if percentage < record.Percentage {
		return
	}
	if percentage > 100 {
		percentage = 100
	}

	record.Percentage = percentage
	record.UpdatedAt = time.Now()
	s.scheduleSnapshotLocked()
}

func (s *Store) CompleteUpload(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[uploadID]
	if !ok || record.Status.Terminal() {
		return
	}

	record.Status = StatusCompleted
	record.Percentage = 100
	record.UpdatedAt = time.Now()
	s.scheduleSnapshotLocked()
}

func (s *Store) FailUpload(uploadID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[uploadID]
	if !ok || record.Status.Terminal() {
		return
	}

	record.Status = StatusFailed
	record.Error = message
	record.UpdatedAt = time.Now()
	s.scheduleSnapshotLocked()
}

func (s *Store) SetJobID(uploadID, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[uploadID]
	if !ok {
		return
	}
	record.JobID = jobID
	s.scheduleSnapshotLocked()
}

// ClearJobID detaches a finished background job from the record without
// deleting the visible history entry.
func (s *Store) ClearJobID(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[uploadID]
	if !ok {
		return
	}
	record.JobID = ""
	s.scheduleSnapshotLocked()
}

func (s *Store) Get(uploadID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[uploadID]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// Records returns all entries, oldest first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ClearRecord removes a terminal record from view.
func (s *Store) ClearRecord(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, uploadID)
	s.scheduleSnapshotLocked()
}

// EnablePersistence attaches write-through persistence scoped to the
// given user and loads their previously persisted records. Reports
// whether any existed, which callers use to decide whether to surface
// the upload monitor on login.
func (s *Store) EnablePersistence(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.persister.enable(userID)
	if err != nil {
		return false, err
	}

	for i := range records {
		record := records[i]
		if _, exists := s.records[record.UploadID]; !exists {
			s.records[record.UploadID] = &record
		}
	}

	log.Debug().Str("userId", userID).Int("restored", len(records)).Msg("[PROGRESS] Persistence enabled")
	return len(records) > 0, nil
}

// DisablePersistence flushes and detaches, e.g. on logout. Other users'
// stored snapshots are untouched.
func (s *Store) DisablePersistence() {
	s.mu.Lock()
	records := s.snapshotLocked()
	s.mu.Unlock()

	s.persister.disable(records)
}

// Close drains any pending snapshot deterministically.
func (s *Store) Close() {
	s.DisablePersistence()
}

func (s *Store) snapshotLocked() []Record {
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

func (s *Store) scheduleSnapshotLocked() {
	s.persister.schedule(s.snapshotLocked())
}

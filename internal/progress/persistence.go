package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const snapshotDebounce = 250 * time.Millisecond

// persister owns the durable per-user snapshot: one JSON file per user,
// written debounced and atomically (temp file + rename). Disabled until
// enable is called; disabling never touches other users' files.
type persister struct {
	mu      sync.Mutex
	dir     string
	userID  string
	enabled bool
	pending []Record
	timer   *time.Timer
}

func newPersister(dir string) *persister {
	return &persister{dir: dir}
}

func (p *persister) enable(userID string) ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	p.userID = userID
	p.enabled = true

	payload, err := os.ReadFile(p.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(payload, &records); err != nil {
		// A corrupt snapshot should not block login; start fresh.
		log.Warn().Err(err).Str("userId", userID).Msg("[PROGRESS] Discarding unreadable snapshot")
		return nil, nil
	}
	return records, nil
}

func (p *persister) disable(records []Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.writeLocked(records)

	p.enabled = false
	p.userID = ""
	p.pending = nil
}

// schedule records the latest snapshot and (re)arms the debounce timer.
func (p *persister) schedule(records []Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	p.pending = records
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(snapshotDebounce, p.flush)
}

func (p *persister) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.pending == nil {
		return
	}
	p.writeLocked(p.pending)
	p.pending = nil
}

func (p *persister) writeLocked(records []Record) {
	payload, err := json.Marshal(records)
	if err != nil {
		log.Error().Err(err).Msg("[PROGRESS] Failed to encode snapshot")
		return
	}

	tmp := p.path() + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		log.Error().Err(err).Msg("[PROGRESS] Failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, p.path()); err != nil {
		log.Error().Err(err).Msg("[PROGRESS] Failed to replace snapshot")
	}
}

func (p *persister) path() string {
	return filepath.Join(p.dir, "uploads_"+p.userID+".json")
}

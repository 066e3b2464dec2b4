package gallery

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository backs the server when no database is configured and
// stands in for the SQL repository in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	files map[string]*GalleryFile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		files: make(map[string]*GalleryFile),
	}
}

func (r *MemoryRepository) Create(f *GalleryFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[f.ID]; exists {
		return fmt.Errorf("gallery file %s already exists", f.ID)
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().Unix()
	}

	stored := *f
	r.files[f.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetByID(id string) (*GalleryFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("gallery file not found")
	}

	copy := *f
	return &copy, nil
}

func (r *MemoryRepository) ListByGallery(guildID, galleryName string) ([]*GalleryFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var files []*GalleryFile
	for _, f := range r.files {
		if f.GuildID == guildID && f.GalleryName == galleryName {
			copy := *f
			files = append(files, &copy)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt > files[j].CreatedAt
	})
	return files, nil
}

func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.files, id)
	return nil
}

package gallery

import (
	"database/sql"
	"fmt"
	"time"
)

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(f *GalleryFile) error {
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().Unix()
	}

	query := `INSERT INTO gallery_files (id, guild_id, gallery_name, file_name, file_type, size_bytes, storage_path, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(query,
		f.ID,
		f.GuildID,
		f.GalleryName,
		f.FileName,
		f.FileType,
		f.SizeBytes,
		f.StoragePath,
		f.CreatedAt,
	)
	return err
}

func (r *SQLRepository) GetByID(id string) (*GalleryFile, error) {
	query := `SELECT id, guild_id, gallery_name, file_name, file_type, size_bytes, storage_path, created_at
			  FROM gallery_files WHERE id = $1`

	f := &GalleryFile{}
	err := r.db.QueryRow(query, id).Scan(
		&f.ID,
		&f.GuildID,
		&f.GalleryName,
		&f.FileName,
		&f.FileType,
		&f.SizeBytes,
		&f.StoragePath,
		&f.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gallery file not found")
	}
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (r *SQLRepository) ListByGallery(guildID, galleryName string) ([]*GalleryFile, error) {
	query := `SELECT id, guild_id, gallery_name, file_name, file_type, size_bytes, storage_path, created_at
			  FROM gallery_files WHERE guild_id = $1 AND gallery_name = $2 ORDER BY created_at DESC`

	rows, err := r.db.Query(query, guildID, galleryName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*GalleryFile
	for rows.Next() {
		f := &GalleryFile{}
		err := rows.Scan(
			&f.ID,
			&f.GuildID,
			&f.GalleryName,
			&f.FileName,
			&f.FileType,
			&f.SizeBytes,
			&f.StoragePath,
			&f.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

func (r *SQLRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM gallery_files WHERE id = $1`, id)
	return err
}

package gallery

// GalleryFile is the durable record of a completed upload, written by the
// session service at finalize time.
type GalleryFile struct {
	ID          string `json:"id"`
	GuildID     string `json:"guildId"`
	GalleryName string `json:"galleryName"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	SizeBytes   int64  `json:"sizeBytes"`
	StoragePath string `json:"-"`
	CreatedAt   int64  `json:"createdAt"`
}

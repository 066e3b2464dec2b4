package gallery

type Repository interface {
	Create(file *GalleryFile) error
	GetByID(id string) (*GalleryFile, error)
	ListByGallery(guildID, galleryName string) ([]*GalleryFile, error)
	Delete(id string) error
}

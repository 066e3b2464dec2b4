package uploader

import (
	"fmt"
	"io"
)

// Chunk is one numbered contiguous byte range of a file, the unit of
// transmission. Part numbers start at 1.
type Chunk struct {
	PartNumber int
	Offset     int64
	Size       int64
}

// ChunkPlan deterministically splits totalSize bytes into ordered chunks.
// The final chunk carries the remainder, or a full chunk when the size
// divides evenly. Pure function of its inputs.
func ChunkPlan(totalSize, chunkSize int64) ([]Chunk, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("total size must be positive, got %d", totalSize)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	numChunks := int((totalSize + chunkSize - 1) / chunkSize)
	chunks := make([]Chunk, 0, numChunks)

	for part := 1; part <= numChunks; part++ {
		offset := int64(part-1) * chunkSize
		size := chunkSize
		if offset+size > totalSize {
			size = totalSize - offset
		}
		chunks = append(chunks, Chunk{PartNumber: part, Offset: offset, Size: size})
	}

	return chunks, nil
}

// FileChunks adapts a random-access source into a restartable chunk
// provider: the same part can be read again for a retry.
type FileChunks struct {
	source    io.ReaderAt
	chunks    []Chunk
	totalSize int64
}

func NewFileChunks(source io.ReaderAt, totalSize, chunkSize int64) (*FileChunks, error) {
	chunks, err := ChunkPlan(totalSize, chunkSize)
	if err != nil {
		return nil, err
	}
	return &FileChunks{
		source:    source,
		chunks:    chunks,
		totalSize: totalSize,
	}, nil
}

func (f *FileChunks) NumParts() int {
	return len(f.chunks)
}

func (f *FileChunks) TotalSize() int64 {
	return f.totalSize
}

func (f *FileChunks) PartSize(partNumber int) (int64, error) {
	chunk, err := f.chunk(partNumber)
	if err != nil {
		return 0, err
	}
	return chunk.Size, nil
}

// Part returns a fresh reader over the chunk's byte range.
func (f *FileChunks) Part(partNumber int) (io.Reader, error) {
	chunk, err := f.chunk(partNumber)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(f.source, chunk.Offset, chunk.Size), nil
}

func (f *FileChunks) chunk(partNumber int) (Chunk, error) {
	if partNumber < 1 || partNumber > len(f.chunks) {
		return Chunk{}, fmt.Errorf("part %d out of range 1..%d", partNumber, len(f.chunks))
	}
	return f.chunks[partNumber-1], nil
}

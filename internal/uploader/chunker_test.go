package uploader

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkPlan_ShouldCoverTotalSizeWithoutGaps(t *testing.T) {
	// given
	totalSize := int64(10*1024*1024 + 300)
	chunkSize := int64(1024 * 1024)

	// when
	chunks, err := ChunkPlan(totalSize, chunkSize)

	// then
	assert.NoError(t, err)
	assert.Len(t, chunks, 11)

	var sum int64
	expectedOffset := int64(0)
	for i, chunk := range chunks {
		assert.Equal(t, i+1, chunk.PartNumber)
		assert.Equal(t, expectedOffset, chunk.Offset)
		expectedOffset += chunk.Size
		sum += chunk.Size
	}
	assert.Equal(t, totalSize, sum)
	assert.Equal(t, int64(300), chunks[10].Size)
}

func TestChunkPlan_ShouldUseFullFinalChunkOnEvenSplit(t *testing.T) {
	chunks, err := ChunkPlan(4096, 1024)

	assert.NoError(t, err)
	assert.Len(t, chunks, 4)
	assert.Equal(t, int64(1024), chunks[3].Size)
}

func TestChunkPlan_ShouldProduceSingleChunkForSmallFile(t *testing.T) {
	chunks, err := ChunkPlan(10, 1024)

	assert.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Equal(t, int64(10), chunks[0].Size)
}

func TestChunkPlan_ShouldRejectNonPositiveSizes(t *testing.T) {
	_, err := ChunkPlan(0, 1024)
	assert.Error(t, err)

	_, err = ChunkPlan(1024, 0)
	assert.Error(t, err)

	_, err = ChunkPlan(-1, 1024)
	assert.Error(t, err)
}

func TestFileChunks_Part_ShouldBeReadableAgainForRetry(t *testing.T) {
	// given
	data := []byte("0123456789abcdef")
	chunks, err := NewFileChunks(bytes.NewReader(data), int64(len(data)), 4)
	assert.NoError(t, err)
	assert.Equal(t, 4, chunks.NumParts())

	// when the same part is read twice
	first, err := chunks.Part(2)
	assert.NoError(t, err)
	firstBytes, _ := io.ReadAll(first)

	second, err := chunks.Part(2)
	assert.NoError(t, err)
	secondBytes, _ := io.ReadAll(second)

	// then both reads return the same byte range
	assert.Equal(t, []byte("4567"), firstBytes)
	assert.Equal(t, firstBytes, secondBytes)
}

func TestFileChunks_Part_ShouldRejectOutOfRangeParts(t *testing.T) {
	chunks, err := NewFileChunks(bytes.NewReader(make([]byte, 8)), 8, 4)
	assert.NoError(t, err)

	_, err = chunks.Part(0)
	assert.Error(t, err)

	_, err = chunks.Part(3)
	assert.Error(t, err)
}

func TestFileChunks_PartSize_ShouldReturnRemainderForFinalPart(t *testing.T) {
	chunks, err := NewFileChunks(bytes.NewReader(make([]byte, 10)), 10, 4)
	assert.NoError(t, err)

	size, err := chunks.PartSize(3)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

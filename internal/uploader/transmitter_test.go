package uploader

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// chunkRecorder stubs the server side of the chunk endpoint: it records
// received parts and can be told to fail a part a number of times.
type chunkRecorder struct {
	mu        sync.Mutex
	parts     map[int][]byte
	failures  map[int]int
	order     []int
	callCount int
}

func newChunkRecorder() *chunkRecorder {
	return &chunkRecorder{
		parts:    make(map[int][]byte),
		failures: make(map[int]int),
	}
}

func (r *chunkRecorder) failPart(partNumber, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[partNumber] = times
}

func (r *chunkRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		partNumber, _ := strconv.Atoi(req.URL.Query().Get("index"))
		body, _ := io.ReadAll(req.Body)

		r.mu.Lock()
		defer r.mu.Unlock()
		r.callCount++
		r.order = append(r.order, partNumber)

		if r.failures[partNumber] > 0 {
			r.failures[partNumber]--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.parts[partNumber] = body
		w.WriteHeader(http.StatusOK)
	}
}

func (r *chunkRecorder) receivedOrder() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := make([]int, len(r.order))
	copy(order, r.order)
	return order
}

func (r *chunkRecorder) receivedParts() map[int][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := make(map[int][]byte, len(r.parts))
	for n, b := range r.parts {
		parts[n] = b
	}
	return parts
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2.0}
}

func TestTransmitter_Transmit_ShouldSendAllPartsInOrder(t *testing.T) {
	// given
	recorder := newChunkRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	data := []byte("aaaabbbbccccdd")
	chunks, err := NewFileChunks(bytes.NewReader(data), int64(len(data)), 4)
	assert.NoError(t, err)

	transmitter := NewTransmitter(NewClient(server.URL, nil), fastPolicy(), 1)

	var reports []int64
	onProgress := func(sentBytes int64) { reports = append(reports, sentBytes) }

	// when
	err = transmitter.Transmit(context.Background(), "upload-1", chunks, nil, onProgress)

	// then
	assert.NoError(t, err)
	parts := recorder.receivedParts()
	assert.Len(t, parts, 4)
	assert.Equal(t, []byte("aaaa"), parts[1])
	assert.Equal(t, []byte("dd"), parts[4])

	assert.Len(t, reports, 4)
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1])
	}
	assert.Equal(t, int64(len(data)), reports[len(reports)-1])
}

func TestTransmitter_Transmit_ShouldIssuePartsAscendingWhenSequential(t *testing.T) {
	// given a sequential transmitter and an 8 part file
	recorder := newChunkRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	data := make([]byte, 32)
	chunks, err := NewFileChunks(bytes.NewReader(data), int64(len(data)), 4)
	assert.NoError(t, err)

	transmitter := NewTransmitter(NewClient(server.URL, nil), fastPolicy(), 1)

	// when
	err = transmitter.Transmit(context.Background(), "upload-1", chunks, nil, nil)

	// then the server sees the parts in strict ascending order
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, recorder.receivedOrder())
}

func TestTransmitter_Transmit_ShouldRetryTransientFailures(t *testing.T) {
	// given a server that fails part 3 twice before accepting it
	recorder := newChunkRecorder()
	recorder.failPart(3, 2)
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	data := make([]byte, 10)
	chunks, err := NewFileChunks(bytes.NewReader(data), int64(len(data)), 2)
	assert.NoError(t, err)

	transmitter := NewTransmitter(NewClient(server.URL, nil), fastPolicy(), 1)

	// when
	err = transmitter.Transmit(context.Background(), "upload-1", chunks, nil, nil)

	// then every part including the flaky one lands
	assert.NoError(t, err)
	assert.Len(t, recorder.receivedParts(), 5)
}

func TestTransmitter_Transmit_ShouldFailAfterExhaustingRetries(t *testing.T) {
	// given a part that fails more times than the retry budget allows
	recorder := newChunkRecorder()
	recorder.failPart(2, 10)
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	chunks, err := NewFileChunks(bytes.NewReader(make([]byte, 8)), 8, 4)
	assert.NoError(t, err)

	transmitter := NewTransmitter(NewClient(server.URL, nil), fastPolicy(), 1)

	// when
	err = transmitter.Transmit(context.Background(), "upload-1", chunks, nil, nil)

	// then the run fails with the exhausted part's error
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "part 2")
	assert.Contains(t, err.Error(), "exhausted 3 attempts")
}

func TestTransmitter_Transmit_ShouldSendOnlyRequestedParts(t *testing.T) {
	// given
	recorder := newChunkRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	data := []byte("aaaabbbbccccdddd")
	chunks, err := NewFileChunks(bytes.NewReader(data), int64(len(data)), 4)
	assert.NoError(t, err)

	transmitter := NewTransmitter(NewClient(server.URL, nil), fastPolicy(), 1)

	// when only the gaps of a resume are requested
	err = transmitter.Transmit(context.Background(), "upload-1", chunks, []int{2, 4}, nil)

	// then
	assert.NoError(t, err)
	parts := recorder.receivedParts()
	assert.Len(t, parts, 2)
	assert.Equal(t, []byte("bbbb"), parts[2])
	assert.Equal(t, []byte("dddd"), parts[4])
}

func TestTransmitter_Transmit_ShouldHandleConcurrentSends(t *testing.T) {
	// given
	recorder := newChunkRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	chunks, err := NewFileChunks(bytes.NewReader(data), int64(len(data)), 8)
	assert.NoError(t, err)

	transmitter := NewTransmitter(NewClient(server.URL, nil), fastPolicy(), 4)

	var mu sync.Mutex
	var last int64
	onProgress := func(sentBytes int64) {
		mu.Lock()
		defer mu.Unlock()
		if sentBytes > last {
			last = sentBytes
		}
	}

	// when
	err = transmitter.Transmit(context.Background(), "upload-1", chunks, nil, onProgress)

	// then all parts land intact regardless of ordering
	assert.NoError(t, err)
	parts := recorder.receivedParts()
	assert.Len(t, parts, 8)
	for n := 1; n <= 8; n++ {
		assert.Equal(t, data[(n-1)*8:n*8], parts[n])
	}
	assert.Equal(t, int64(64), last)
}

func TestTransmitter_Transmit_ShouldDoNothingForEmptyPartList(t *testing.T) {
	recorder := newChunkRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	chunks, err := NewFileChunks(bytes.NewReader(make([]byte, 8)), 8, 4)
	assert.NoError(t, err)

	transmitter := NewTransmitter(NewClient(server.URL, nil), fastPolicy(), 1)

	err = transmitter.Transmit(context.Background(), "upload-1", chunks, []int{}, nil)

	assert.NoError(t, err)
	assert.Empty(t, recorder.receivedParts())
}

package session_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/guildgallery/guildgallery_server/internal"
	"github.com/guildgallery/guildgallery_server/internal/feed"
	"github.com/guildgallery/guildgallery_server/internal/gallery"
	"github.com/guildgallery/guildgallery_server/internal/health"
	"github.com/guildgallery/guildgallery_server/internal/progress"
	"github.com/guildgallery/guildgallery_server/internal/session"
	"github.com/guildgallery/guildgallery_server/internal/storage"
	"github.com/guildgallery/guildgallery_server/internal/uploader"
)

// startServer wires the full server stack onto an in-memory listener so
// the real client can talk to the real endpoints without a port.
func startServer(t *testing.T) (string, *http.Client, storage.Backend, gallery.Repository) {
	t.Helper()

	backend, err := storage.NewLocalStorage(&storage.BackendConfig{LocalPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Expected local storage to initialize, got: %v", err)
	}

	repo := gallery.NewMemoryRepository()
	hub := feed.NewHub()
	go hub.Run()

	store := session.NewStore(time.Minute)
	service := session.NewService(store, backend, repo, hub, 1024*1024, 4)

	handler := internal.NewRequestHandler(
		&internal.Config{},
		session.NewEndpoints(service),
		gallery.NewEndpoints(repo),
		health.NewEndpoints("test"),
		feed.NewHandler(hub),
	)

	listener := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: handler}
	go server.Serve(listener)

	t.Cleanup(func() {
		listener.Close()
		hub.Stop()
	})

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return listener.Dial()
			},
		},
	}

	return "http://upload-server", httpClient, backend, repo
}

func fastTestPolicy() uploader.RetryPolicy {
	return uploader.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2.0}
}

// flakyTransport drops chunk requests for one part a configurable number
// of times; -1 means every time.
type flakyTransport struct {
	base      http.RoundTripper
	failIndex string
	mu        sync.Mutex
	remaining int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/uploads/chunk") && req.URL.Query().Get("index") == f.failIndex {
		f.mu.Lock()
		failing := f.remaining != 0
		if f.remaining > 0 {
			f.remaining--
		}
		f.mu.Unlock()
		if failing {
			return nil, fmt.Errorf("connection reset by peer")
		}
	}
	return f.base.RoundTrip(req)
}

func readObject(t *testing.T, backend storage.Backend, path string) []byte {
	t.Helper()
	reader, err := backend.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected object at %s, got: %v", path, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Expected object to be readable, got: %v", err)
	}
	return data
}

func TestUploadPipeline_ShouldUploadFileEndToEnd(t *testing.T) {
	// given a running server and a 40 byte file
	baseURL, httpClient, backend, repo := startServer(t)

	content := []byte("0123456789012345678901234567890123456789")
	store := progress.NewStore(t.TempDir())

	up := uploader.New(uploader.NewClient(baseURL, httpClient), store, uploader.Config{
		ChunkSize:   4,
		Policy:      fastTestPolicy(),
		Concurrency: 1,
	})

	// when the full pipeline runs
	path, err := up.Upload(context.Background(), "guild-1", "raids", "banner.png", ".png", bytes.NewReader(content), int64(len(content)))

	// then the assembled object matches the source file
	if err != nil {
		t.Fatalf("Expected upload to succeed, got: %v", err)
	}
	if !bytes.Equal(readObject(t, backend, path), content) {
		t.Errorf("Assembled object does not match uploaded content")
	}

	// the gallery record is visible
	files, err := repo.ListByGallery("guild-1", "raids")
	if err != nil || len(files) != 1 {
		t.Fatalf("Expected 1 gallery file, got %d (err: %v)", len(files), err)
	}

	// the local progress record reached completed at 100%
	record, ok := store.Get(files[0].ID)
	if !ok {
		t.Fatalf("Expected a progress record for the upload")
	}
	if record.Status != progress.StatusCompleted || record.Percentage != 100 {
		t.Errorf("Expected completed record at 100%%, got %s at %d%%", record.Status, record.Percentage)
	}
}

func TestUploadPipeline_ShouldSurviveTransientChunkFailures(t *testing.T) {
	// given a transport that drops part 3 twice before letting it through
	baseURL, httpClient, backend, _ := startServer(t)
	httpClient.Transport = &flakyTransport{
		base:      httpClient.Transport,
		failIndex: "3",
		remaining: 2,
	}

	content := []byte("aaaabbbbccccddddeeee")
	store := progress.NewStore(t.TempDir())
	up := uploader.New(uploader.NewClient(baseURL, httpClient), store, uploader.Config{
		ChunkSize: 4,
		Policy:    fastTestPolicy(),
	})

	// when
	path, err := up.Upload(context.Background(), "guild-1", "raids", "clip.mp4", ".mp4", bytes.NewReader(content), int64(len(content)))

	// then the retries absorb the transient failures
	if err != nil {
		t.Fatalf("Expected upload to survive transient failures, got: %v", err)
	}
	if !bytes.Equal(readObject(t, backend, path), content) {
		t.Errorf("Assembled object does not match uploaded content")
	}
}

func TestUploadPipeline_ShouldResumeInterruptedUpload(t *testing.T) {
	// given a session holding parts 1, 2, 4 and 5 of 5
	baseURL, httpClient, backend, _ := startServer(t)
	client := uploader.NewClient(baseURL, httpClient)

	content := []byte("aaaabbbbccccddddeeee")
	initResp, err := client.Initiate(context.Background(), &session.InitiateRequest{
		FileName:    "archive.zip",
		FileType:    ".zip",
		GalleryName: "raids",
		GuildID:     "guild-1",
		TotalSize:   int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Expected initiate to succeed, got: %v", err)
	}

	for _, part := range []int{1, 2, 4, 5} {
		chunk := content[(part-1)*4 : part*4]
		if err := client.SendChunk(context.Background(), initResp.UploadID, part, bytes.NewReader(chunk)); err != nil {
			t.Fatalf("Expected part %d to be accepted, got: %v", part, err)
		}
	}

	// when the upload is resumed
	store := progress.NewStore(t.TempDir())
	store.AddUpload(initResp.UploadID, "archive.zip", "raids", "guild-1")

	up := uploader.New(client, store, uploader.Config{ChunkSize: 4, Policy: fastTestPolicy()})
	path, err := up.Resume(context.Background(), initResp.UploadID, bytes.NewReader(content), int64(len(content)))

	// then only the gap was filled and the file assembles correctly
	if err != nil {
		t.Fatalf("Expected resume to succeed, got: %v", err)
	}
	if !bytes.Equal(readObject(t, backend, path), content) {
		t.Errorf("Assembled object does not match uploaded content")
	}

	record, _ := store.Get(initResp.UploadID)
	if record.Status != progress.StatusCompleted {
		t.Errorf("Expected completed record after resume, got %s", record.Status)
	}
}

func TestUploadPipeline_ShouldFailWhenPartNeverArrives(t *testing.T) {
	// given a transport that always drops part 3
	baseURL, httpClient, _, _ := startServer(t)
	httpClient.Transport = &flakyTransport{
		base:      httpClient.Transport,
		failIndex: "3",
		remaining: -1,
	}

	content := []byte("aaaabbbbccccddddeeee")
	store := progress.NewStore(t.TempDir())
	up := uploader.New(uploader.NewClient(baseURL, httpClient), store, uploader.Config{
		ChunkSize: 4,
		Policy:    fastTestPolicy(),
	})

	// when
	_, err := up.Upload(context.Background(), "guild-1", "raids", "clip.mp4", ".mp4", bytes.NewReader(content), int64(len(content)))

	// then the upload fails after exhausting the retry budget
	if err == nil {
		t.Fatal("Expected upload to fail")
	}

	var netErr *uploader.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("Expected the failure to carry the network error, got: %v", err)
	}

	// and the local record is failed with a reason
	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("Expected 1 progress record, got %d", len(records))
	}
	if records[0].Status != progress.StatusFailed || records[0].Error == "" {
		t.Errorf("Expected failed record with reason, got %+v", records[0])
	}
}

func TestUploadPipeline_ShouldCancelUpload(t *testing.T) {
	// given an upload with one part received
	baseURL, httpClient, _, _ := startServer(t)
	client := uploader.NewClient(baseURL, httpClient)

	initResp, err := client.Initiate(context.Background(), &session.InitiateRequest{
		FileName:    "banner.png",
		GalleryName: "raids",
		GuildID:     "guild-1",
		TotalSize:   8,
	})
	if err != nil {
		t.Fatalf("Expected initiate to succeed, got: %v", err)
	}
	if err := client.SendChunk(context.Background(), initResp.UploadID, 1, bytes.NewReader([]byte("aaaa"))); err != nil {
		t.Fatalf("Expected chunk to be accepted, got: %v", err)
	}

	// when
	if err := client.Cancel(context.Background(), initResp.UploadID); err != nil {
		t.Fatalf("Expected cancel to succeed, got: %v", err)
	}

	// then the progress projection reports the cancellation
	job, err := client.Progress(context.Background(), initResp.UploadID)
	if err != nil {
		t.Fatalf("Expected progress to stay readable, got: %v", err)
	}
	if job.Status != string(session.StatusCancelled) {
		t.Errorf("Expected status cancelled, got %s", job.Status)
	}

	// further chunks look like an unknown session
	err = client.SendChunk(context.Background(), initResp.UploadID, 2, bytes.NewReader([]byte("bbbb")))
	var notFound *session.SessionNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Expected SessionNotFoundError for chunk after cancel, got: %v", err)
	}
}

func TestServer_HealthEndpoint_ShouldAnswer(t *testing.T) {
	baseURL, httpClient, _, _ := startServer(t)

	resp, err := httpClient.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Expected health request to succeed, got: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestServer_GalleryListing_ShouldReturnUploadedFiles(t *testing.T) {
	// given a completed upload
	baseURL, httpClient, _, _ := startServer(t)
	content := []byte("aaaabbbb")

	up := uploader.New(uploader.NewClient(baseURL, httpClient), progress.NewStore(t.TempDir()), uploader.Config{
		ChunkSize: 4,
		Policy:    fastTestPolicy(),
	})
	if _, err := up.Upload(context.Background(), "guild-1", "raids", "banner.png", ".png", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Expected upload to succeed, got: %v", err)
	}

	// when the gallery is listed
	resp, err := httpClient.Get(baseURL + "/galleries/guild-1/raids/files")
	if err != nil {
		t.Fatalf("Expected listing request to succeed, got: %v", err)
	}
	defer resp.Body.Close()

	// then
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "banner.png") {
		t.Errorf("Expected listing to contain the uploaded file, got: %s", body)
	}
}

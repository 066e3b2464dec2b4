package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guildgallery/guildgallery_server/internal/jobworker"
	"github.com/guildgallery/guildgallery_server/internal/progress"
	"github.com/guildgallery/guildgallery_server/internal/uploader"
)

const usage = `Usage: uploadctl [flags] <command>

Commands:
  upload   -guild <id> -gallery <name> -file <path>   upload a file
  resume   -id <uploadId> -file <path>                resend missing parts
  cancel   -id <uploadId>                             abort an upload
  status                                              list tracked uploads
  watch    -id <uploadId>                             follow server-side progress

Flags:
  -server <url>   server base URL (default http://localhost:8080)
  -user <id>      user scope for the persisted progress snapshot
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	userID := flag.String("user", "default", "user id scoping the progress snapshot")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	store := progress.NewStore(snapshotDir())
	if restored, err := store.EnablePersistence(*userID); err != nil {
		log.Warn().Err(err).Msg("Could not load persisted progress")
	} else if restored {
		log.Info().Msg("Restored progress from previous run")
	}
	defer store.Close()

	client := uploader.NewClient(*serverURL, nil)

	var err error
	switch flag.Arg(0) {
	case "upload":
		err = runUpload(client, store, flag.Args()[1:])
	case "resume":
		err = runResume(client, store, flag.Args()[1:])
	case "cancel":
		err = runCancel(client, store, flag.Args()[1:])
	case "status":
		err = runStatus(store)
	case "watch":
		err = runWatch(store, *serverURL, flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		store.Close()
		os.Exit(1)
	}
}

func snapshotDir() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "./files/progress"
	}
	return filepath.Join(cacheDir, "uploadctl")
}

func runUpload(client *uploader.Client, store *progress.Store, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	guildID := fs.String("guild", "", "guild id")
	galleryName := fs.String("gallery", "", "gallery name")
	filePath := fs.String("file", "", "path of the file to upload")
	fileType := fs.String("type", "", "file type, defaults to the file extension")
	chunkSize := fs.Int64("chunk-size", 1024*1024, "chunk size in bytes")
	concurrency := fs.Int("concurrency", 1, "parallel chunk transmissions")
	fs.Parse(args)

	if *guildID == "" || *galleryName == "" || *filePath == "" {
		return fmt.Errorf("upload requires -guild, -gallery and -file")
	}

	file, size, err := openSource(*filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if *fileType == "" {
		*fileType = filepath.Ext(*filePath)
	}

	up := uploader.New(client, store, uploader.Config{
		ChunkSize:   *chunkSize,
		Policy:      uploader.DefaultRetryPolicy(),
		Concurrency: *concurrency,
	})

	path, err := up.Upload(context.Background(), *guildID, *galleryName, filepath.Base(*filePath), *fileType, file, size)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runResume(client *uploader.Client, store *progress.Store, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	uploadID := fs.String("id", "", "upload id")
	filePath := fs.String("file", "", "path of the file being uploaded")
	chunkSize := fs.Int64("chunk-size", 1024*1024, "chunk size in bytes")
	fs.Parse(args)

	if *uploadID == "" || *filePath == "" {
		return fmt.Errorf("resume requires -id and -file")
	}

	file, size, err := openSource(*filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	up := uploader.New(client, store, uploader.Config{ChunkSize: *chunkSize})
	path, err := up.Resume(context.Background(), *uploadID, file, size)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runCancel(client *uploader.Client, store *progress.Store, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	uploadID := fs.String("id", "", "upload id")
	fs.Parse(args)

	if *uploadID == "" {
		return fmt.Errorf("cancel requires -id")
	}

	up := uploader.New(client, store, uploader.DefaultConfig())
	return up.Cancel(context.Background(), *uploadID)
}

func runStatus(store *progress.Store) error {
	records := store.Records()
	if len(records) == 0 {
		fmt.Println("no tracked uploads")
		return nil
	}
	for _, record := range records {
		line := fmt.Sprintf("%s  %s/%s  %s  %3d%%  %s", record.UploadID, record.GuildID, record.GalleryName, record.FileName, record.Percentage, record.Status)
		if record.Error != "" {
			line += "  (" + record.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runWatch(store *progress.Store, serverURL string, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	uploadID := fs.String("id", "", "upload id")
	interval := fs.Duration("interval", time.Second, "poll interval")
	fs.Parse(args)

	if *uploadID == "" {
		return fmt.Errorf("watch requires -id")
	}

	config := jobworker.DefaultConfig()
	config.PollInterval = *interval
	worker := jobworker.NewWorker(config)
	go worker.Run()
	defer worker.Close()

	worker.Start(*uploadID, serverURL)
	store.SetJobID(*uploadID, *uploadID)

	for event := range worker.Events() {
		switch event.Type {
		case jobworker.EventUpdate:
			store.UpdateProgress(*uploadID, event.Job.Percentage)
			fmt.Printf("%3d%%  %s\n", event.Job.Percentage, event.Job.Status)
		case jobworker.EventComplete:
			store.CompleteUpload(*uploadID)
			store.ClearJobID(*uploadID)
			fmt.Println("completed")
			return nil
		case jobworker.EventFailed:
			store.FailUpload(*uploadID, event.Job.Error)
			store.ClearJobID(*uploadID)
			return fmt.Errorf("upload ended as %s", event.Job.Status)
		case jobworker.EventNotFound:
			store.FailUpload(*uploadID, "session not found or expired")
			store.ClearJobID(*uploadID)
			return event.Err
		case jobworker.EventTimeout:
			store.ClearJobID(*uploadID)
			return event.Err
		case jobworker.EventError:
			log.Warn().Err(event.Err).Msg("Poll failed")
		}
	}
	return nil
}

func openSource(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return file, info.Size(), nil
}

package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type partResult struct {
	partNumber int
	err        error
}

// Transmitter drives a chunk plan over the wire. Parts are issued in
// ascending order with a configurable concurrency bound; the default is
// sequential. Raising the bound is safe because the server records chunks
// idempotently per part number.
type Transmitter struct {
	client      *Client
	policy      RetryPolicy
	concurrency int
}

func NewTransmitter(client *Client, policy RetryPolicy, concurrency int) *Transmitter {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Transmitter{
		client:      client,
		policy:      policy,
		concurrency: concurrency,
	}
}

// Transmit sends the given parts (all of them when parts is nil). After
// each successful part it reports the cumulative transmitted byte count,
// which is monotonically non-decreasing within one run. Exhausting the
// retry budget on any part fails the whole run with that part's last
// error; parts the server already holds stay counted, so the session
// remains resumable.
func (t *Transmitter) Transmit(ctx context.Context, uploadID string, chunks *FileChunks, parts []int, onProgress func(sentBytes int64)) error {
	if parts == nil {
		parts = make([]int, chunks.NumParts())
		for i := range parts {
			parts[i] = i + 1
		}
	}
	if len(parts) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Workers drain an ordered queue, so parts go out in ascending order;
	// with the default single worker that order is strict.
	partChan := make(chan int, len(parts))
	for _, partNumber := range parts {
		partChan <- partNumber
	}
	close(partChan)

	resultChan := make(chan partResult, len(parts))

	workers := t.concurrency
	if workers > len(parts) {
		workers = len(parts)
	}

	var sentBytes int64

	for i := 0; i < workers; i++ {
		go func() {
			for partNumber := range partChan {
				if err := ctx.Err(); err != nil {
					resultChan <- partResult{partNumber: partNumber, err: err}
					continue
				}

				err := t.sendPartWithRetry(ctx, uploadID, chunks, partNumber)
				if err == nil {
					size, sizeErr := chunks.PartSize(partNumber)
					if sizeErr == nil && onProgress != nil {
						onProgress(atomic.AddInt64(&sentBytes, size))
					}
				}
				resultChan <- partResult{partNumber: partNumber, err: err}
			}
		}()
	}

	var firstErr error
	for range parts {
		result := <-resultChan
		if result.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("part %d: %w", result.partNumber, result.err)
			cancel()
		}
	}

	return firstErr
}

func (t *Transmitter) sendPartWithRetry(ctx context.Context, uploadID string, chunks *FileChunks, partNumber int) error {
	var lastErr error

	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		reader, err := chunks.Part(partNumber)
		if err != nil {
			return err
		}

		lastErr = t.client.SendChunk(ctx, uploadID, partNumber, reader)
		if lastErr == nil {
			return nil
		}

		var netErr *NetworkError
		if !errors.As(lastErr, &netErr) {
			// Validation and session rejections never heal on retry.
			return lastErr
		}

		log.Warn().
			Str("uploadId", uploadID).
			Int("part", partNumber).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("[TRANSMIT] Chunk attempt failed")

		if attempt < t.policy.MaxAttempts {
			if err := t.policy.Wait(ctx, attempt); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", t.policy.MaxAttempts, lastErr)
}

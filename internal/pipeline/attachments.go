package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// maxAttachmentBytes is the per-file ceiling; files at or over it
	// degrade to a plain link appended to the content.
	maxAttachmentBytes = 8 << 20
	downloadRetries    = 3
	baseDownloadWait   = 15 * time.Second
)

// fetchedFile is an attachment pulled from the source, ready to re-upload.
type fetchedFile struct {
	name        string
	contentType string
	data        []byte
}

func (f fetchedFile) size() int { return len(f.data) }

// fetchAttachments downloads a message's attachments. Oversized or
// undownloadable files come back in the links slice instead; the caller
// appends those URLs to the rendered content.
func fetchAttachments(ctx context.Context, httpClient *http.Client, atts []*discordgo.MessageAttachment) (files []fetchedFile, links []string) {
	for _, a := range atts {
		if a == nil || a.URL == "" {
			continue
		}
		if a.Size >= maxAttachmentBytes {
			links = append(links, a.URL)
			continue
		}
		data, err := downloadOne(ctx, httpClient, a)
		if err != nil {
			slog.Warn("pipeline: attachment degraded to link",
				"name", a.Filename, "size", a.Size, "error", err)
			links = append(links, a.URL)
			continue
		}
		files = append(files, fetchedFile{
			name:        a.Filename,
			contentType: a.ContentType,
			data:        data,
		})
	}
	return files, links
}

// downloadOne pulls a single attachment with retries. The per-attempt
// timeout scales with the declared size so large files on slow links are
// not killed prematurely.
func downloadOne(ctx context.Context, httpClient *http.Client, a *discordgo.MessageAttachment) ([]byte, error) {
	timeout := baseDownloadWait + time.Duration(a.Size/(1<<20))*5*time.Second
	var lastErr error
	for attempt := 0; attempt < downloadRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*2*time.Second); err != nil {
				return nil, err
			}
		}
		data, err := func() ([]byte, error) {
			dlCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, a.URL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("status %d", resp.StatusCode)
			}
			data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
			if err != nil {
				return nil, err
			}
			if len(data) >= maxAttachmentBytes {
				return nil, fmt.Errorf("at or over %d bytes", maxAttachmentBytes)
			}
			return data, nil
		}()
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("download %s: %w", a.Filename, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// toUploads converts fetched files into webhook upload handles.
func toUploads(files []fetchedFile) []*discordgo.File {
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		out = append(out, &discordgo.File{
			Name:        f.name,
			ContentType: f.contentType,
			Reader:      bytes.NewReader(f.data),
		})
	}
	return out
}

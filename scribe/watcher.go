package scribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// Quiet period after the last write before an inbox file is ingested
const inboxSettle = time.Second

var inboxExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".webm": true,
}

func (s *Scribe) watchInbox(ctx context.Context) {
	slog.Info("Started watching inbox directory", "path", s.config.InboxDir)

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !inboxCandidate(event) {
				continue
			}

			// Restart the timer on every write so partially copied files are skipped
			name := event.Name
			mu.Lock()
			if t, ok := pending[name]; ok {
				t.Reset(s.settle)
			} else {
				pending[name] = time.AfterFunc(s.settle, func() {
					mu.Lock()
					delete(pending, name)
					mu.Unlock()

					if err := s.ingest(ctx, name); err != nil {
						slog.Error("Failed to ingest inbox file",
							"error", err,
							"file", name)
					}
				})
			}
			mu.Unlock()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func inboxCandidate(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return inboxExtensions[strings.ToLower(filepath.Ext(base))]
}

// ingest moves an inbox file into the upload directory and queues it.
func (s *Scribe) ingest(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}

	dst := filepath.Join(s.config.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(path)))
	if err := moveFile(path, dst); err != nil {
		return fmt.Errorf("failed to move inbox file: %w", err)
	}

	m, err := s.ProcessFile(ctx, dst)
	if err != nil {
		return err
	}

	slog.Info("Ingested inbox file",
		"meetingID", m.ID,
		"file", filepath.Base(path))
	return nil
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

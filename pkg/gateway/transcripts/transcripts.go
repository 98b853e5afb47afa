// Package transcripts durably saves raw interview transcripts: one JSON
// file per conversation, optionally archived to Postgres as well. A saved
// transcript is both the best-effort backup taken before design generation
// and the definitive record of a completed interview.
package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/vozerp/consult-gateway/pkg/core"
)

// Fallback names recorded when the caller does not know who it talked to.
const (
	UnknownCompany = "Desconocida"
	UnknownOwner   = "Desconocido"
)

// Record is the persisted document.
type Record struct {
	CompanyName string `json:"companyName"`
	OwnerName   string `json:"ownerName"`
	Timestamp   string `json:"timestamp"`
	Transcript  string `json:"transcript"`
}

// archive is the optional secondary sink, satisfied by the Postgres store.
type archive interface {
	ArchiveTranscript(ctx context.Context, companyName, ownerName string, body []byte, savedPath string) error
}

// Saver writes transcripts under a base directory. The directory is
// created on first save.
type Saver struct {
	dir     string
	archive archive
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewSaver(dir string, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{dir: dir, logger: logger, now: time.Now}
}

// WithArchive attaches a secondary sink. Archive failures are logged and
// never fail the save; the file on disk is the source of truth.
func (s *Saver) WithArchive(a archive) *Saver {
	s.archive = a
	return s
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// sanitizeName turns a free-form company name into a filename fragment.
func sanitizeName(name string) string {
	cleaned := strings.Trim(unsafeChars.ReplaceAllString(name, "-"), "-")
	if cleaned == "" {
		cleaned = "transcripcion"
	}
	return cleaned
}

// Save writes the transcript and returns the saved path.
func (s *Saver) Save(ctx context.Context, companyName, ownerName, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", core.NewInvalidRequestErrorWithParam("transcript must not be empty", "transcript")
	}
	if strings.TrimSpace(companyName) == "" {
		companyName = UnknownCompany
	}
	if strings.TrimSpace(ownerName) == "" {
		ownerName = UnknownOwner
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}

	now := s.now().UTC()
	record := Record{
		CompanyName: companyName,
		OwnerName:   ownerName,
		Timestamp:   now.Format(time.RFC3339),
		Transcript:  transcript,
	}
	body, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json", sanitizeName(companyName), now.Format("2006-01-02T15-04-05"))
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}

	if s.archive != nil {
		if err := s.archive.ArchiveTranscript(ctx, companyName, ownerName, body, path); err != nil {
			s.logger.Error("transcript archive failed", "path", path, "error", err)
		}
	}

	s.logger.Info("transcript saved", "path", path, "company", companyName)
	return path, nil
}

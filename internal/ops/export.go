package ops

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/penciled/penciled/internal/calendar"
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	SessionID string
	Token     string

	// Path overrides the default export location,
	// ~/.penciled/exports/<session>-<timestamp>.ics.
	Path string

	// TimeZone resolves events whose times carry no zone of their own.
	TimeZone string
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes a session's live events to an .ics file. The serialized
// entries match what sync would push, UIDs included, so an exported file
// imported into a calendar app lines up with any later push. The write
// goes through a temp file and rename; a failed export never clobbers an
// existing file.
func Export(d Deps, in ExportInput) (*ExportOutput, error) {
	id := strings.TrimSpace(in.SessionID)
	if id == "" {
		return nil, errors.NewValidation("session id is required")
	}
	if _, err := authorizeSession(d.DB, id, in.Token); err != nil {
		return nil, err
	}

	events, err := db.ListSessionEvents(d.DB, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.NewValidation("session has no events to export")
	}

	now := time.Now()
	exportPath := in.Path
	if exportPath == "" {
		exportPath, err = defaultExportPath(id, now)
		if err != nil {
			return nil, err
		}
	}

	// Validate ALL paths (both user-provided and default) for security
	if err := ValidateExportPath(exportPath, d.Config); err != nil {
		return nil, err
	}

	body, err := calendar.BuildICS(events, in.TimeZone)
	if err != nil {
		return nil, errors.NewValidation(fmt.Sprintf("cannot serialize events: %v", err))
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Write to temp file first, then atomic rename to preserve existing file on failure
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	// Clean up temp file on failure (original file is preserved)
	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.WriteString(body); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}

	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// Check if destination is a symlink (os.Rename would follow it)
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	// Finalize export by renaming temp file into place.
	//
	// Note: On Windows, os.Rename fails if the destination exists. We intentionally
	// fail safely (preserving the existing file) instead of doing a non-atomic
	// delete+rename that could lose the original if rename fails.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewValidation("export destination already exists; overwriting is not supported on Windows yet (choose a new path or delete the existing file)")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       exportPath,
		Count:      len(events),
		ExportedAt: now.Unix(),
	}, nil
}

// defaultExportPath generates the default export path.
// Format: ~/.penciled/exports/<session>-<timestamp>.ics
func defaultExportPath(sessionID string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s-%s.ics", SanitizeForFilename(sessionID), now.Format("2006-01-02T150405"))
	return filepath.Join(dir, filename), nil
}

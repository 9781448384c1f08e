package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Transcriber produces an SRT subtitle file from source media using the
// whisper CLI.
type Transcriber struct {
	Binary  string
	Model   string
	Run     CommandRunner
	Timeout time.Duration
}

// NewTranscriber constructs a Transcriber shelling out to whisper.
func NewTranscriber(binary, model string, timeout time.Duration) *Transcriber {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper"
	}
	if strings.TrimSpace(model) == "" {
		model = "base"
	}
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &Transcriber{
		Binary:  binary,
		Model:   model,
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Transcribe writes <media basename>.srt into destDir and returns its path.
// sourceLanguage "auto" (or empty) lets whisper detect the language.
func (t *Transcriber) Transcribe(ctx context.Context, mediaPath, sourceLanguage, destDir string) (string, error) {
	if t == nil {
		return "", ErrProviderUnavailable
	}
	if t.Run == nil {
		t.Run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := []string{
		mediaPath,
		"--model", t.Model,
		"--output_format", "srt",
		"--output_dir", destDir,
	}
	if sourceLanguage != "" && sourceLanguage != "auto" {
		args = append(args, "--language", sourceLanguage)
	}

	if _, err := t.Run(execCtx, t.Binary, args...); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", Transient(fmt.Errorf("whisper timed out: %w", err))
		}
		return "", fmt.Errorf("whisper transcribe: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	path := filepath.Join(destDir, base+".srt")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("whisper produced no subtitles at %s: %w", path, err)
	}

	return path, nil
}

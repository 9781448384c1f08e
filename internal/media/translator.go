package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Translator produces a translated SRT file via the argos-translate CLI.
type Translator struct {
	Binary  string
	Run     CommandRunner
	Timeout time.Duration
}

// NewTranslator constructs a Translator.
func NewTranslator(binary string, timeout time.Duration) *Translator {
	if strings.TrimSpace(binary) == "" {
		binary = "argos-translate"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Translator{
		Binary:  binary,
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Translate reads the subtitle file, translates its cue text, and writes a
// translated copy next to it, returning the new path.
func (t *Translator) Translate(ctx context.Context, subtitlePath, sourceLanguage, targetLanguage, destDir string) (string, error) {
	if t == nil {
		return "", ErrProviderUnavailable
	}
	if t.Run == nil {
		t.Run = defaultCommandRunner
	}

	content, err := os.ReadFile(subtitlePath)
	if err != nil {
		return "", fmt.Errorf("read subtitles: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cues := parseSRT(string(content))
	translated := make([]srtCue, 0, len(cues))
	for _, cue := range cues {
		args := []string{"--from", normalizeLang(sourceLanguage), "--to", targetLanguage, cue.Text}
		out, err := t.Run(execCtx, t.Binary, args...)
		if err != nil {
			if execCtx.Err() == context.DeadlineExceeded {
				return "", Transient(fmt.Errorf("translation timed out: %w", err))
			}
			return "", fmt.Errorf("translate cue %d: %w", cue.Index, err)
		}
		cue.Text = strings.TrimSpace(string(out))
		translated = append(translated, cue)
	}

	path := filepath.Join(destDir, fmt.Sprintf("subtitles_%s.srt", targetLanguage))
	if err := os.WriteFile(path, []byte(renderSRT(translated)), 0o644); err != nil {
		return "", fmt.Errorf("write translated subtitles: %w", err)
	}

	return path, nil
}

func normalizeLang(lang string) string {
	if lang == "" || lang == "auto" {
		return "en"
	}
	return lang
}

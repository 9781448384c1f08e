package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Synthesizer generates a voiceover audio track from subtitles via the
// edge-tts CLI.
type Synthesizer struct {
	Binary  string
	Run     CommandRunner
	Timeout time.Duration
}

// voicesByLanguage maps target languages to edge-tts voices.
var voicesByLanguage = map[string]string{
	"ru": "ru-RU-DmitryNeural",
	"en": "en-US-GuyNeural",
	"es": "es-ES-AlvaroNeural",
	"fr": "fr-FR-HenriNeural",
	"de": "de-DE-ConradNeural",
	"it": "it-IT-DiegoNeural",
}

// NewSynthesizer constructs a Synthesizer.
func NewSynthesizer(binary string, timeout time.Duration) *Synthesizer {
	if strings.TrimSpace(binary) == "" {
		binary = "edge-tts"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Synthesizer{
		Binary:  binary,
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Synthesize reads the subtitle file and produces voiceover audio in destDir.
func (s *Synthesizer) Synthesize(ctx context.Context, subtitlePath, language, destDir string) (string, error) {
	if s == nil {
		return "", ErrProviderUnavailable
	}
	if s.Run == nil {
		s.Run = defaultCommandRunner
	}

	content, err := os.ReadFile(subtitlePath)
	if err != nil {
		return "", fmt.Errorf("read subtitles: %w", err)
	}

	text := subtitleText(string(content))
	if text == "" {
		return "", fmt.Errorf("no cue text in %s", subtitlePath)
	}

	voice, ok := voicesByLanguage[normalizeLang(language)]
	if !ok {
		voice = voicesByLanguage["en"]
	}

	execCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	path := filepath.Join(destDir, "voiceover.mp3")
	args := []string{
		"--voice", voice,
		"--text", text,
		"--write-media", path,
	}

	if _, err := s.Run(execCtx, s.Binary, args...); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", Transient(fmt.Errorf("tts timed out: %w", err))
		}
		return "", fmt.Errorf("tts synthesize: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("tts produced no audio at %s: %w", path, err)
	}

	return path, nil
}

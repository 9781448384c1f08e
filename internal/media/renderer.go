package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RenderRequest describes one render job: source media plus the optional
// artifacts and transformations to combine into the final output.
type RenderRequest struct {
	MediaPath     string
	SubtitlePath  string // burned in when set
	VoiceoverPath string // mixed over the original audio when set
	Vertical      bool   // crop and scale to 9:16
	Watermark     bool
	MaxQuality    string // "720p" or "1080p"
}

// Renderer combines media, subtitles, and voiceover into the delivered file
// using ffmpeg.
type Renderer struct {
	Binary        string
	Run           CommandRunner
	Timeout       time.Duration
	WatermarkText string
}

// NewRenderer constructs a Renderer.
func NewRenderer(binary string, timeout time.Duration) *Renderer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Renderer{
		Binary:        binary,
		Run:           defaultCommandRunner,
		Timeout:       timeout,
		WatermarkText: "AutoSub",
	}
}

// Render writes output.mp4 into destDir and returns its path.
func (r *Renderer) Render(ctx context.Context, req RenderRequest, destDir string) (string, error) {
	if r == nil {
		return "", ErrProviderUnavailable
	}
	if r.Run == nil {
		r.Run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	path := filepath.Join(destDir, "output.mp4")
	args := r.buildArgs(req, path)

	if _, err := r.Run(execCtx, r.Binary, args...); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", Transient(fmt.Errorf("ffmpeg timed out: %w", err))
		}
		return "", fmt.Errorf("ffmpeg render: %w", err)
	}

	return path, nil
}

func (r *Renderer) buildArgs(req RenderRequest, outputPath string) []string {
	args := []string{"-i", req.MediaPath}
	if req.VoiceoverPath != "" {
		args = append(args, "-i", req.VoiceoverPath)
	}

	var filters []string
	if req.Vertical {
		filters = append(filters, "crop=ih*9/16:ih,scale=1080:1920")
	} else if req.MaxQuality == "720p" {
		filters = append(filters, "scale=-2:'min(720,ih)'")
	}
	if req.Watermark {
		filters = append(filters, fmt.Sprintf(
			"drawtext=text='%s':fontsize=24:fontcolor=white@0.5:x=(w-text_w)-10:y=(h-text_h)-10",
			r.WatermarkText))
	}
	if req.SubtitlePath != "" {
		escaped := strings.ReplaceAll(strings.ReplaceAll(req.SubtitlePath, "\\", "/"), ":", "\\:")
		filters = append(filters, fmt.Sprintf("subtitles='%s'", escaped))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	if req.VoiceoverPath != "" {
		args = append(args,
			"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=first[aout]",
			"-map", "0:v",
			"-map", "[aout]",
		)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	)

	return args
}

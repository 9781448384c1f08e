package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/babymaxMAX/autosub/internal/models"
)

// Fetcher resolves an input descriptor to a local media file inside a
// task-scoped work directory.
type Fetcher struct {
	Binary  string
	Run     CommandRunner
	Timeout time.Duration
	// UploadRoot is the directory where the front end stages uploaded files.
	UploadRoot string
}

// NewFetcher constructs a Fetcher that shells out to yt-dlp for URL sources.
func NewFetcher(binary, uploadRoot string, timeout time.Duration) *Fetcher {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Fetcher{
		Binary:     binary,
		Run:        defaultCommandRunner,
		Timeout:    timeout,
		UploadRoot: uploadRoot,
	}
}

// Fetch places the task's source media under destDir and returns its path.
// Uploaded files are copied out of the staging area so later stages always
// work on a fresh, task-scoped artifact.
func (f *Fetcher) Fetch(ctx context.Context, input models.InputDescriptor, destDir string) (string, error) {
	if f == nil {
		return "", ErrProviderUnavailable
	}
	if f.Run == nil {
		f.Run = defaultCommandRunner
	}

	if input.Kind == models.InputUpload {
		return f.copyUpload(input.Locator, destDir)
	}

	execCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	outTemplate := filepath.Join(destDir, "source.%(ext)s")
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"-f", "bestvideo[height<=1080]+bestaudio/best",
		"--merge-output-format", "mp4",
		"-o", outTemplate,
		input.Locator,
	}

	if _, err := f.Run(execCtx, f.Binary, args...); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", Transient(fmt.Errorf("yt-dlp download timed out: %w", err))
		}
		return "", fmt.Errorf("yt-dlp download: %w", err)
	}

	path := filepath.Join(destDir, "source.mp4")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("yt-dlp produced no output at %s: %w", path, err)
	}

	return path, nil
}

func (f *Fetcher) copyUpload(fileRef, destDir string) (string, error) {
	src := fileRef
	if !filepath.IsAbs(src) {
		src = filepath.Join(f.UploadRoot, fileRef)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(destDir, "source"+filepath.Ext(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create work copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copy uploaded file: %w", err)
	}

	return dst, nil
}

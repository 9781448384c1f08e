package scheduler

import (
	"errors"
	"net/url"
	"strings"

	"github.com/babymaxMAX/autosub/internal/models"
)

// ErrUnsupportedSource indicates the submitted locator does not map to a
// known source kind.
var ErrUnsupportedSource = errors.New("unsupported media source")

// ParseInput validates a raw submission into an input descriptor. Uploads are
// passed through as file references; URLs must belong to a supported host.
func ParseInput(kind, locator string) (models.InputDescriptor, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return models.InputDescriptor{}, errors.New("empty input locator")
	}

	if models.InputKind(kind) == models.InputUpload {
		return models.InputDescriptor{Kind: models.InputUpload, Locator: locator}, nil
	}

	parsed, err := url.Parse(locator)
	if err != nil || parsed.Host == "" {
		return models.InputDescriptor{}, ErrUnsupportedSource
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	switch {
	case host == "youtube.com" || host == "youtu.be" || strings.HasSuffix(host, ".youtube.com"):
		return models.InputDescriptor{Kind: models.InputYouTube, Locator: locator}, nil
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return models.InputDescriptor{Kind: models.InputTikTok, Locator: locator}, nil
	case host == "instagram.com" || strings.HasSuffix(host, ".instagram.com"):
		return models.InputDescriptor{Kind: models.InputInstagram, Locator: locator}, nil
	default:
		return models.InputDescriptor{}, ErrUnsupportedSource
	}
}

package media

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/babymaxMAX/autosub/internal/models"
)

func uploadInput(ref string) models.InputDescriptor {
	return models.InputDescriptor{Kind: models.InputUpload, Locator: ref}
}

func urlInput(url string) models.InputDescriptor {
	return models.InputDescriptor{Kind: models.InputYouTube, Locator: url}
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

package bridge

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/wiggin77/slack-matrix-bridge/matrix"
)

// MediaRelay fetches a remote binary resource and re-hosts it through the
// Matrix content repository. Failures propagate to the caller; callers decide
// their own fallback.
type MediaRelay struct {
	matrixClient *matrix.Client
	httpClient   *http.Client
	logger       Logger
}

// NewMediaRelay creates a media relay over the given Matrix client.
func NewMediaRelay(matrixClient *matrix.Client, logger Logger) *MediaRelay {
	return &MediaRelay{
		matrixClient: matrixClient,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Relay downloads the resource at rawURL and uploads it to the content
// repository under the given title, returning the mxc:// reference. When a
// credential is supplied the fetch is bearer-authenticated (used for private
// file downloads; avatar fetches are unauthenticated).
func (r *MediaRelay) Relay(rawURL, title, credential string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create media fetch request")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch media")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read media response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch media: %d %s", resp.StatusCode, string(body))
	}

	mimeType := resp.Header.Get("Content-Type")

	contentURI, err := r.matrixClient.UploadMedia(body, title, mimeType)
	if err != nil {
		return "", errors.Wrap(err, "failed to upload media to content repository")
	}

	r.logger.LogDebug("Relayed media to content repository", "url", rawURL, "content_uri", contentURI, "bytes", len(body))
	return contentURI, nil
}

package imagesearch

import (
	"context"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultLivenessTimeout = 5 * time.Second

// Checker reports whether an image URL currently answers a HEAD request
// with a 2xx status and, when it declares one, an image content type.
type Checker struct {
	httpClient *resty.Client
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &Checker{
		httpClient: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "PharmaStore-Ingest/1.0"),
	}
}

func (c *Checker) Alive(ctx context.Context, imageURL string) bool {
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return false
	}
	resp, err := c.httpClient.R().SetContext(ctx).Head(imageURL)
	if err == nil && resp.StatusCode() == http.StatusMethodNotAllowed {
		// some CDNs refuse HEAD; a one-byte ranged GET answers the same question
		resp, err = c.httpClient.R().
			SetContext(ctx).
			SetHeader("Range", "bytes=0-0").
			Get(imageURL)
	}
	if err != nil {
		log.Debug().Err(err).Str("url", imageURL).Msg("image liveness check failed")
		return false
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return false
	}
	ct := resp.Header().Get("Content-Type")
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}

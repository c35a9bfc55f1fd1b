package gateway

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultImageTimeout     = 15 * time.Second
	defaultImageFilename    = "image.jpg"
	defaultImageContentType = "image/jpeg"
)

// Image is a binary payload attached to a media send.
type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

// ImageSource supplies the image for a media send.
type ImageSource interface {
	Fetch(ctx context.Context) (*Image, error)
}

// HTTPImageSource downloads the image with an unauthenticated GET.
type HTTPImageSource struct {
	client *resty.Client
	url    string
}

func NewHTTPImageSource(imageURL string) (*HTTPImageSource, error) {
	client := resty.New()
	client.SetTimeout(defaultImageTimeout)
	client.SetRetryCount(0)

	return NewHTTPImageSourceWithClient(imageURL, client)
}

func NewHTTPImageSourceWithClient(imageURL string, client *resty.Client) (*HTTPImageSource, error) {
	trimmed := strings.TrimSpace(imageURL)
	if trimmed == "" {
		return nil, fmt.Errorf("image url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	client.SetRetryCount(0)

	return &HTTPImageSource{client: client, url: trimmed}, nil
}

func (s *HTTPImageSource) Fetch(ctx context.Context) (*Image, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("image source is not initialized")
	}

	response, err := s.client.R().
		SetContext(ctx).
		Get(s.url)
	if err != nil {
		return nil, &ImageFetchError{URL: s.url, Cause: err}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ImageFetchError{URL: s.url, StatusCode: statusCode}
	}

	data := response.Body()
	if len(data) == 0 {
		return nil, &ImageFetchError{URL: s.url, StatusCode: statusCode, Cause: fmt.Errorf("empty body")}
	}

	return &Image{
		Data:        data,
		Filename:    imageFilename(response.RawResponse, s.url),
		ContentType: imageContentType(response.Header().Get("Content-Type")),
	}, nil
}

func imageContentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return defaultImageContentType
	}
	return mediaType
}

// imageFilename prefers the final request URL so redirects to a concrete
// image (e.g. /id/237/400.jpg) keep a meaningful name.
func imageFilename(raw *http.Response, fallbackURL string) string {
	candidates := make([]string, 0, 2)
	if raw != nil && raw.Request != nil && raw.Request.URL != nil {
		candidates = append(candidates, raw.Request.URL.Path)
	}
	if parsed, err := url.Parse(fallbackURL); err == nil {
		candidates = append(candidates, parsed.Path)
	}

	for _, p := range candidates {
		base := path.Base(p)
		if base != "" && base != "." && base != "/" && path.Ext(base) != "" {
			return base
		}
	}
	return defaultImageFilename
}

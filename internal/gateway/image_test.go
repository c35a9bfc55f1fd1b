package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPImageSourceFetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/random":
			http.Redirect(w, r, "/id/237/cat.png", http.StatusFound)
		case "/id/237/cat.png":
			if got := r.Header.Get("Authorization"); got != "" {
				t.Errorf("Authorization = %q, want none", got)
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	source, err := NewHTTPImageSource(server.URL + "/random")
	if err != nil {
		t.Fatalf("NewHTTPImageSource() error = %v", err)
	}

	image, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(image.Data) != "png-bytes" {
		t.Fatalf("Data = %q, want png-bytes", image.Data)
	}
	if image.Filename != "cat.png" {
		t.Fatalf("Filename = %q, want cat.png", image.Filename)
	}
	if image.ContentType != "image/png" {
		t.Fatalf("ContentType = %q, want image/png", image.ContentType)
	}
}

func TestHTTPImageSourceFetchDefaults(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("raw"))
	}))
	defer server.Close()

	source, err := NewHTTPImageSource(server.URL + "/400")
	if err != nil {
		t.Fatalf("NewHTTPImageSource() error = %v", err)
	}

	image, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if image.Filename != defaultImageFilename {
		t.Fatalf("Filename = %q, want %q", image.Filename, defaultImageFilename)
	}
	if image.ContentType != defaultImageContentType {
		t.Fatalf("ContentType = %q, want %q", image.ContentType, defaultImageContentType)
	}
}

func TestHTTPImageSourceFetchFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		statusCode int
		body       string
	}{
		{name: "not found", statusCode: http.StatusNotFound, body: "missing"},
		{name: "empty body", statusCode: http.StatusOK, body: ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			source, err := NewHTTPImageSource(server.URL)
			if err != nil {
				t.Fatalf("NewHTTPImageSource() error = %v", err)
			}

			_, err = source.Fetch(context.Background())
			var fetchErr *ImageFetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("Fetch() error = %v, want *ImageFetchError", err)
			}
			if fetchErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", fetchErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestNewHTTPImageSourceValidation(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "not a url"} {
		if _, err := NewHTTPImageSource(raw); err == nil {
			t.Fatalf("NewHTTPImageSource(%q) expected error", raw)
		}
	}
}

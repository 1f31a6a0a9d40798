package ingress

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/rembg-api/rembg"
	nhttp "github.com/chaos-io/rembg-api/util/http"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func newFetcher() *Fetcher {
	return NewFetcher(nhttp.NewHTTPClient(), time.Second, 1<<20)
}

func TestFetcher_Fetch(t *testing.T) {
	payload := pngBytes(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	got, err := newFetcher().Fetch(context.Background(), server.URL+"/x.png")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetcher_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer html.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer empty.Close()

	huge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(append(pngBytes(t), make([]byte, 1<<20)...))
	}))
	defer huge.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()

	tests := []struct {
		name    string
		url     string
		fetcher *Fetcher
		wantErr error
	}{
		{name: "unreachable host", url: "http://example.invalid/x.png", wantErr: ErrFetch},
		{name: "non-2xx", url: notFound.URL, wantErr: ErrFetch},
		{name: "empty body", url: empty.URL, wantErr: ErrFetch},
		{name: "not an image", url: html.URL, wantErr: rembg.ErrInference},
		{name: "body over limit", url: huge.URL, wantErr: ErrTooLarge},
		{name: "timeout", url: slow.URL, fetcher: NewFetcher(nhttp.NewHTTPClient(), 50*time.Millisecond, 0), wantErr: ErrFetch},
		{name: "no scheme", url: "example.com/x.png", wantErr: ErrInvalidURL},
		{name: "ftp scheme", url: "ftp://example.com/x.png", wantErr: ErrInvalidURL},
		{name: "empty", url: "", wantErr: ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.fetcher
			if f == nil {
				f = newFetcher()
			}
			got, err := f.Fetch(context.Background(), tt.url)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}

func TestReadBody(t *testing.T) {
	payload := pngBytes(t)

	got, err := ReadBody(bytes.NewReader(payload), 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = ReadBody(bytes.NewReader(payload), 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = ReadBody(strings.NewReader("plain text"), 0)
	assert.ErrorIs(t, err, rembg.ErrInference)

	_, err = ReadBody(strings.NewReader(""), 0)
	assert.ErrorIs(t, err, rembg.ErrInference)
}

func multipartFile(t *testing.T, filename string, data []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["file"][0]
}

func TestStager_Read(t *testing.T) {
	payload := pngBytes(t)

	t.Run("InMemory", func(t *testing.T) {
		dir := t.TempDir()
		got, err := NewStager(dir, false, 0).Read(multipartFile(t, "cat.png", payload))
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries)
	})

	t.Run("StageToDisk", func(t *testing.T) {
		dir := t.TempDir()
		got, err := NewStager(dir, true, 0).Read(multipartFile(t, "../../etc/cat.png", payload))
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries, "staged file should be removed after reading")
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := NewStager("/nonexistent/uploads", true, 0).Read(multipartFile(t, "cat.png", payload))
		assert.ErrorIs(t, err, ErrStorage)
	})

	t.Run("TooLarge", func(t *testing.T) {
		_, err := NewStager(t.TempDir(), true, 8).Read(multipartFile(t, "cat.png", payload))
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("NotAnImage", func(t *testing.T) {
		_, err := NewStager(t.TempDir(), true, 0).Read(multipartFile(t, "cat.png", []byte("hello")))
		assert.ErrorIs(t, err, rembg.ErrInference)
	})
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "cat.png", sanitize("cat.png"))
	assert.Equal(t, "cat.png", sanitize("../../cat.png"))
	assert.Equal(t, "cat.png", sanitize(`C:\Users\me\cat.png`))
	assert.Equal(t, "my_cat_.png", sanitize("my cat!.png"))
	assert.Equal(t, "upload", sanitize(""))
}

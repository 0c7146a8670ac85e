package network

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{"choices":[{"message":{"content":"{\"matching_tiles\":[2]}"}}]}`

func encode(t *testing.T, encoding string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch encoding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "deflate":
		w = zlib.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	default:
		return []byte(payload)
	}
	_, err := w.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestCompressionMiddleware(t *testing.T) {
	for _, encoding := range []string{"gzip", "deflate", "br", ""} {
		t.Run("encoding "+encoding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "gzip, deflate, br", r.Header.Get("Accept-Encoding"))
				if encoding != "" {
					w.Header().Set("Content-Encoding", encoding)
				}
				_, _ = w.Write(encode(t, encoding))
			}))
			defer srv.Close()

			resp, err := NewClient(&ClientConfig{RequestTimeout: 2 * time.Second}).Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(body))
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestDecompressResponse_Unsupported(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Content-Encoding": []string{"zstd"}}, Body: io.NopCloser(bytes.NewReader(nil))}
	assert.ErrorContains(t, DecompressResponse(resp), "unsupported")
}

func TestDecompressResponse_CorruptGzip(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Content-Encoding": []string{"gzip"}}, Body: io.NopCloser(bytes.NewReader([]byte("not gzip")))}
	assert.Error(t, DecompressResponse(resp))
}

package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "turn.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFfake"), 0o644))
	return path
}

func TestHTTPClient_UploadsArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stt", r.URL.Path)
		f, hdr, err := r.FormFile("audio_file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFfake", string(b))
		assert.Equal(t, "turn.wav", hdr.Filename)
		_, _ = w.Write([]byte(`{"text":"  hello there "}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPClient(srv.URL).Transcribe(context.Background(), writeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, "hello there", tr.Text)
}

func TestHTTPClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Transcribe(context.Background(), writeArtifact(t))
	assert.ErrorContains(t, err, "status=500")

	_, err = c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)

	_, err = NewHTTPClient("").Transcribe(context.Background(), writeArtifact(t))
	assert.Error(t, err)
}

func TestOpenAIClient_KeepsSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": " one two ",
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 1.5, "text": " one"},
				{"id": 1, "start": 1.5, "end": 2.0, "text": " two"},
			},
		})
	}))
	defer srv.Close()

	tr, err := NewOpenAIClient("key", srv.URL, "", "en").Transcribe(context.Background(), writeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, "one two", tr.Text)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "two", tr.Segments[1].Text)
	assert.InDelta(t, 2.0, tr.Segments[1].End, 1e-9)
	assert.True(t, tr.Segments[0].Completed)
}

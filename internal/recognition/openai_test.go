package recognition

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
)

func TestOpenAIEngineTranscribes(t *testing.T) {
	var (
		gotModel    string
		gotLanguage string
		gotAuth     string
		gotWAV      bool
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		gotAuth = r.Header.Get("Authorization")
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		header := make([]byte, 12)
		_, err = file.Read(header)
		require.NoError(t, err)
		gotWAV = audio.IsWAV(header)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ola"})
	}))
	defer server.Close()

	engine, err := NewOpenAIEngine(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	}, testLogger())
	require.NoError(t, err)

	adapter := newTestAdapter(engine, 1)
	transcript, err := adapter.Recognize(context.Background(), make([]byte, 8000), "pt-PT")
	require.NoError(t, err)

	assert.Equal(t, "ola", transcript.Text)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "pt", gotLanguage)
	assert.True(t, gotWAV)
}

func TestOpenAIEngineServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	engine, err := NewOpenAIEngine(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, testLogger())
	require.NoError(t, err)

	_, err = newTestAdapter(engine, 1).Recognize(context.Background(), make([]byte, 8000), "pt")
	require.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestOpenAIEngineRequiresKey(t *testing.T) {
	_, err := NewOpenAIEngine(OpenAIConfig{}, testLogger())
	assert.Error(t, err)
}

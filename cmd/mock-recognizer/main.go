// Command mock-recognizer is a stand-in for the HTTP recognition backend.
// It answers every request with a fixed transcript so the service can run
// end to end without a speech model.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
	"github.com/Heliossandro/projeto-transcricao/internal/recognition"
)

func main() {
	var (
		addr  string
		text  string
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mock-recognizer",
		Short: "Fake transcription endpoint for local development",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

			r := chi.NewRouter()
			r.Post("/transcribe", transcribeHandler(logger, text, delay))

			logger.Info("Mock recognizer starting",
				slog.String("address", addr),
				slog.String("endpoint", fmt.Sprintf("http://%s/transcribe", addr)))
			return http.ListenAndServe(addr, r)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9000", "Listen address")
	cmd.Flags().StringVar(&text, "text", "ola", "Transcript returned for every request")
	cmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "Simulated processing time")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func transcribeHandler(logger *slog.Logger, text string, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		var duration float64
		if info, err := audio.GetWAVInfo(data); err == nil {
			duration = info.Duration
		}

		logger.Info("Transcription request received",
			slog.String("request_id", r.FormValue("request_id")),
			slog.String("filename", header.Filename),
			slog.Int("audio_size", len(data)),
			slog.Float64("duration", duration),
			slog.String("language", r.FormValue("language")),
			slog.String("model", r.FormValue("model")),
		)

		time.Sleep(delay)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recognition.TranscriptionResponse{
			Text:     text,
			Language: r.FormValue("language"),
			Duration: duration,
		})
	}
}

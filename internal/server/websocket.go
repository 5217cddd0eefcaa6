package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Heliossandro/projeto-transcricao/internal/pipeline"
	"github.com/Heliossandro/projeto-transcricao/internal/stream"
)

const wsWriteTimeout = 10 * time.Second

// streamMessage is sent for every chunk and for every finalized utterance
type streamMessage struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
	IsPartial  bool   `json:"is_partial"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	SessionID  string `json:"session_id"`
}

// streamControl is a JSON text frame from the client
type streamControl struct {
	Type       string `json:"type"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// handleWebSocket implements /ws/stream. Binary frames carry PCM s16le at
// the service sample rate; the text frame "end" finalizes the utterance.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	source, target := h.deps.Pipeline.Languages(r.URL.Query().Get("source_lang"), r.URL.Query().Get("target_lang"))

	session, err := h.deps.Streams.CreateSession(source, target)
	if err != nil {
		if errors.Is(err, stream.ErrTooManySessions) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer h.deps.Streams.RemoveSession(session.ID)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	logger := h.logger.With(slog.String("session_id", session.ID.String()))
	logger.Info("WebSocket stream opened", slog.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	idleTimeout := h.config.Stream.GetIdleTimeoutDuration()
	ws.SetReadLimit(h.config.HTTP.MaxUploadBytes)

	for {
		_ = ws.SetReadDeadline(time.Now().Add(idleTimeout))
		msgType, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("WebSocket stream closed", slog.String("error", err.Error()))
			} else {
				logger.Info("WebSocket stream closed")
			}
			return
		}

		var keep bool
		switch msgType {
		case websocket.BinaryMessage:
			keep = h.streamChunk(ctx, ws, session, payload, logger)
		case websocket.TextMessage:
			keep = h.handleControl(ctx, ws, session, payload, logger)
		default:
			keep = true
		}
		if !keep {
			return
		}
	}
}

// streamChunk feeds one PCM chunk and replies with the partial transcript
func (h *HTTPServer) streamChunk(ctx context.Context, ws *websocket.Conn, session *stream.Session, pcm []byte, logger *slog.Logger) bool {
	transcript, err := session.Feed(ctx, pcm)
	if err != nil {
		if errors.Is(err, stream.ErrSessionClosed) {
			h.closeStream(ws, "session expired")
			return false
		}
		logger.Warn("Stream chunk failed", slog.String("error", err.Error()))
		return h.sendOutcome(ws, session, pipeline.ClassifyRecognition(err), true)
	}

	msg := streamMessage{
		Original:  transcript.Text,
		IsPartial: true,
		Status:    string(pipeline.StatusOK),
		SessionID: session.ID.String(),
	}
	if text := strings.TrimSpace(transcript.Text); text != "" {
		source, target := session.Languages()
		msg.Translated = h.deps.Pipeline.Translate(ctx, text, source, target)
	}
	return h.send(ws, msg)
}

// handleControl handles "end" and language changes
func (h *HTTPServer) handleControl(ctx context.Context, ws *websocket.Conn, session *stream.Session, payload []byte, logger *slog.Logger) bool {
	text := strings.TrimSpace(string(payload))
	if strings.EqualFold(text, "end") {
		return h.finalizeStream(ctx, ws, session, logger)
	}

	var ctrl streamControl
	if err := json.Unmarshal(payload, &ctrl); err != nil {
		logger.Debug("Ignoring malformed control frame", slog.String("error", err.Error()))
		return true
	}
	if strings.EqualFold(ctrl.Type, "end") {
		return h.finalizeStream(ctx, ws, session, logger)
	}

	session.SetLanguages(strings.TrimSpace(ctrl.SourceLang), strings.TrimSpace(ctrl.TargetLang))
	return true
}

// finalizeStream closes the current utterance, translates it and records it
func (h *HTTPServer) finalizeStream(ctx context.Context, ws *websocket.Conn, session *stream.Session, logger *slog.Logger) bool {
	startTime := time.Now()
	source, target := session.Languages()

	transcript, err := session.Finalize(ctx)
	if errors.Is(err, stream.ErrSessionClosed) {
		h.closeStream(ws, "session expired")
		return false
	}

	outcome := pipeline.ClassifyRecognition(err)
	resp := pipeline.Response{
		RequestID: uuid.NewString(),
		Outcome:   outcome,
		Stage:     pipeline.StageRespond,
	}
	if outcome == pipeline.OK {
		resp.Original = transcript.Text
		resp.Translated = h.deps.Pipeline.Translate(ctx, transcript.Text, source, target)
	} else {
		resp.Stage = pipeline.StageRecognize
		resp.Original = h.deps.Pipeline.Messages().For(outcome.Kind)
		logger.Info("Stream utterance produced no text",
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()))
	}
	resp.Duration = time.Since(startTime)

	h.deps.Pipeline.Record(ctx, pipeline.Request{
		ID:         resp.RequestID,
		SourceLang: source,
		TargetLang: target,
		Stream:     true,
	}, resp)

	return h.send(ws, streamMessage{
		Original:   resp.Original,
		Translated: resp.Translated,
		Status:     string(outcome.Status),
		Kind:       string(outcome.Kind),
		SessionID:  session.ID.String(),
	})
}

func (h *HTTPServer) sendOutcome(ws *websocket.Conn, session *stream.Session, outcome pipeline.Outcome, partial bool) bool {
	return h.send(ws, streamMessage{
		Original:  h.deps.Pipeline.Messages().For(outcome.Kind),
		IsPartial: partial,
		Status:    string(outcome.Status),
		Kind:      string(outcome.Kind),
		SessionID: session.ID.String(),
	})
}

func (h *HTTPServer) send(ws *websocket.Conn, msg streamMessage) bool {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.WriteJSON(msg); err != nil {
		h.logger.Warn("WebSocket write failed",
			slog.String("session_id", msg.SessionID),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func (h *HTTPServer) closeStream(ws *websocket.Conn, reason string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, reason), deadline)
}

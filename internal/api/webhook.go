package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
	"github.com/CaravanDesk/ChatCaravan/internal/speech"
)

// Fixed fallback texts for voice and unsupported messages. These are sent
// to the user but deliberately kept out of the conversation history.
const (
	voiceFailedText = "Извините, не удалось распознать голосовое сообщение. Пожалуйста, отправьте текст."
	voiceNoURLText  = "Извините, не удалось обработать голосовое сообщение. Пожалуйста, отправьте текст."
	unsupportedText = "Извините, я поддерживаю только текстовые и голосовые сообщения. " +
		"Пожалуйста, отправьте текст или голосовое сообщение."
)

// webhookHandler handles inbound Green API notifications: it extracts the
// user's text (transcribing voice notes), runs the conversation turn and
// sends the reply back. Non-message webhooks are acknowledged and ignored.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if payload.TypeWebhook != models.WebhookTypeIncomingMessage {
		slog.Debug("Server.webhookHandler: ignoring non-message webhook", "typeWebhook", payload.TypeWebhook)
		writeJSONResponse(w, http.StatusOK, models.WebhookStatus{Status: "ignored", Reason: "non_message_webhook"})
		return
	}

	sender := payload.SenderData.Sender
	if sender == "" {
		slog.Error("Server.webhookHandler: sender missing in payload")
		writeJSONResponse(w, http.StatusOK, models.WebhookStatus{Status: "error", Reason: "sender_not_found"})
		return
	}
	phone := strings.TrimSuffix(sender, "@c.us")

	ctx := r.Context()
	var text string

	switch payload.MessageData.TypeMessage {
	case models.MessageTypeText:
		if payload.MessageData.TextMessageData == nil || payload.MessageData.TextMessageData.TextMessage == "" {
			slog.Warn("Server.webhookHandler: empty text message", "from", phone)
			writeJSONResponse(w, http.StatusOK, models.WebhookStatus{Status: "error", Reason: "empty_message"})
			return
		}
		text = payload.MessageData.TextMessageData.TextMessage
		slog.Info("Server.webhookHandler: text message received", "from", phone, "length", len(text))

	case models.MessageTypeVoice:
		voice := payload.MessageData.VoiceMessageData
		if voice == nil || voice.DownloadURL == "" {
			slog.Error("Server.webhookHandler: voice message without download URL", "from", phone)
			s.sendFallback(ctx, phone, voiceNoURLText)
			writeJSONResponse(w, http.StatusOK, models.WebhookStatus{Status: "voice_no_url"})
			return
		}
		if s.speech == nil {
			slog.Warn("Server.webhookHandler: voice message but speech disabled", "from", phone)
			s.sendFallback(ctx, phone, voiceFailedText)
			writeJSONResponse(w, http.StatusOK, models.WebhookStatus{Status: "voice_recognition_failed"})
			return
		}
		recognized, err := s.speech.ProcessVoiceURL(ctx, voice.DownloadURL)
		if err != nil {
			slog.Error("Server.webhookHandler: voice recognition failed", "error", err, "from", phone)
			s.sendFallback(ctx, phone, voiceFailedText)
			writeJSONResponse(w, http.StatusOK, models.WebhookStatus{Status: "voice_recognition_failed"})
			return
		}
		text = speech.TranscriptPrefix + recognized
		slog.Info("Server.webhookHandler: voice message recognized", "from", phone, "length", len(recognized))

	default:
		slog.Warn("Server.webhookHandler: unsupported message type", "typeMessage", payload.MessageData.TypeMessage, "from", phone)
		s.sendFallback(ctx, phone, unsupportedText)
		writeJSONResponse(w, http.StatusOK, models.WebhookStatus{Status: "unsupported_message_type"})
		return
	}

	reply := s.agent.ProcessTurn(ctx, phone, text)

	sendResult := "success"
	if err := s.msgService.SendMessage(ctx, phone, reply); err != nil {
		slog.Error("Server.webhookHandler: failed to send reply", "error", err, "to", phone)
		sendResult = "error"
	}

	writeJSONResponse(w, http.StatusOK, models.WebhookStatus{
		Status:     "ok",
		Reply:      reply,
		SendResult: sendResult,
	})
}

// sendFallback delivers a fixed apology without touching the conversation
// history; delivery failures are only logged.
func (s *Server) sendFallback(ctx context.Context, to, text string) {
	if err := s.msgService.SendMessage(ctx, to, text); err != nil {
		slog.Error("Server.sendFallback: delivery failed", "error", err, "to", to)
	}
}

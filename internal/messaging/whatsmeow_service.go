package messaging

import (
	"context"
	"log/slog"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/CaravanDesk/ChatCaravan/internal/whatsapp"
)

// WhatsMeowService implements Service using the Whatsmeow-based whatsapp
// client. Inbound text messages are delivered to the registered handler.
type WhatsMeowService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // full client, when available, for event handling
	handler  IncomingHandler
	done     chan struct{}
}

// NewWhatsMeowService creates a service wrapping the given WhatsAppSender.
func NewWhatsMeowService(client whatsapp.WhatsAppSender) *WhatsMeowService {
	service := &WhatsMeowService{
		client: client,
		done:   make(chan struct{}),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsMeowService created with full client for event handling")
	} else {
		slog.Debug("WhatsMeowService created with interface client (likely mock)")
	}

	return service
}

// SetIncomingHandler registers the callback for inbound text messages.
// Must be called before Start.
func (s *WhatsMeowService) SetIncomingHandler(handler IncomingHandler) {
	s.handler = handler
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *WhatsMeowService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins event handling when a full client is available.
func (s *WhatsMeowService) Start(ctx context.Context) error {
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsMeowService.Start: event handler started")
	} else {
		slog.Debug("WhatsMeowService.Start: no full client available, skipping event handling")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsMeowService) Stop() error {
	close(s.done)
	slog.Info("WhatsMeowService.Stop: service stopped")
	return nil
}

// SendMessage sends a message to the recipient.
func (s *WhatsMeowService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsMeowService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsMeowService.SendMessage: send failed", "error", err, "to", canonical)
		return err
	}
	slog.Info("WhatsMeowService.SendMessage: message sent", "to", canonical)
	return nil
}

// handleEvents registers the event handler and forwards inbound text
// messages until the context is cancelled.
func (s *WhatsMeowService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsMeowService.handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		s.handleIncomingMessage(msg)
	})
	slog.Debug("WhatsMeowService.handleEvents: event handler registered")

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	slog.Debug("WhatsMeowService.handleEvents: stopping")
}

// handleIncomingMessage extracts text content and hands it to the handler.
func (s *WhatsMeowService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || s.handler == nil {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages; voice notes come in via the webhook path.
		slog.Debug("WhatsMeowService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	// Sender.User is already the bare phone number, no JID suffix to strip.
	from := evt.Info.Sender.User
	slog.Info("WhatsMeowService.handleIncomingMessage: inbound message", "from", from, "bodyLength", len(messageText))
	s.handler(from, messageText)
}

var _ Service = (*WhatsMeowService)(nil)

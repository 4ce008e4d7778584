package models

// Green API webhook payload types. Only the fields the bot consumes are
// mapped; the provider sends many more.

// WebhookTypeIncomingMessage is the only webhook type the bot processes.
const WebhookTypeIncomingMessage = "incomingMessageReceived"

// Message type discriminators inside messageData.
const (
	MessageTypeText  = "textMessage"
	MessageTypeVoice = "voiceMessage"
)

// WebhookPayload is an inbound Green API notification.
type WebhookPayload struct {
	TypeWebhook string      `json:"typeWebhook"`
	SenderData  SenderData  `json:"senderData"`
	MessageData MessageData `json:"messageData"`
}

// SenderData identifies the message author.
type SenderData struct {
	Sender     string `json:"sender"`
	SenderName string `json:"senderName,omitempty"`
	ChatID     string `json:"chatId,omitempty"`
}

// MessageData carries the typed message content.
type MessageData struct {
	TypeMessage     string           `json:"typeMessage"`
	TextMessageData *TextMessageData `json:"textMessageData,omitempty"`
	VoiceMessageData *VoiceMessageData `json:"voiceMessageData,omitempty"`
}

// TextMessageData holds a plain text message.
type TextMessageData struct {
	TextMessage string `json:"textMessage"`
}

// VoiceMessageData holds a voice note reference.
type VoiceMessageData struct {
	DownloadURL string `json:"downloadUrl"`
	MimeType    string `json:"mimeType,omitempty"`
}

// WebhookStatus is the structured body returned to the webhook caller.
type WebhookStatus struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Reply      string `json:"reply,omitempty"`
	SendResult string `json:"send_result,omitempty"`
}

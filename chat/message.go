package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one conversation entry. Immutable once created; Timestamp is
// unix epoch milliseconds.
type Message struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func newMessage(sender Sender, text string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: at.UnixMilli(),
	}
}

// greeting is the single synthesized message every fresh conversation starts
// with.
func greeting(assistantName string, at time.Time) Message {
	return newMessage(SenderAssistant, fmt.Sprintf("Hello! I'm %s. How can I assist you today?", assistantName), at)
}

// errorBubble converts a generation failure into a visible assistant message
// instead of a silent error.
func errorBubble(reason string, at time.Time) Message {
	return newMessage(SenderAssistant, fmt.Sprintf("Oops! I encountered an issue: %s. Please try again.", reason), at)
}

package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/nearchat/internal/peers"
)

// MessageType represents the kind of chat message.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeFile   MessageType = "file"
	TypeSystem MessageType = "system"
	TypeTyping MessageType = "typing"
)

// MaxFileBytes is the hard limit for file attachments (10 MiB).
const MaxFileBytes = 10 * 1024 * 1024

// FileAttachment carries an attached file. Populated only on file messages.
type FileAttachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
	Data      []byte `json:"data"`
}

// Message is one chat message. Immutable once created.
type Message struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
	Type       MessageType     `json:"type"`
	Content    string          `json:"content"`
	Timestamp  int64           `json:"ts"` // unix milliseconds
	File       *FileAttachment `json:"file,omitempty"`
}

// NewText creates a text message from the given sender.
func NewText(sender peers.Identity, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Type:       TypeText,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewFile creates a file message. The size limit is enforced at send time.
func NewFile(sender peers.Identity, name, mimeType string, data []byte) Message {
	return Message{
		ID:         uuid.NewString(),
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Type:       TypeFile,
		Content:    name,
		Timestamp:  time.Now().UnixMilli(),
		File: &FileAttachment{
			Name:      name,
			MimeType:  mimeType,
			SizeBytes: int64(len(data)),
			Data:      data,
		},
	}
}

// NewSystem creates a local notice (join/leave). Carries no sender identity.
func NewSystem(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      TypeSystem,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewTyping creates a typing indicator from the given sender.
func NewTyping(sender peers.Identity) Message {
	return Message{
		ID:         uuid.NewString(),
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		Type:       TypeTyping,
		Timestamp:  time.Now().UnixMilli(),
	}
}

package types

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageData carries inline image bytes for multimodal messages.
type ImageData struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// ContentPart is a single piece of message content. Exactly one field is set:
// Text for a text fragment, Image for an inline image.
type ContentPart struct {
	Text  string     `json:"text,omitempty"`
	Image *ImageData `json:"image,omitempty"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Text: text}
}

// ImagePart creates an inline image content part.
func ImagePart(mimeType string, data []byte) ContentPart {
	return ContentPart{Image: &ImageData{MIMEType: mimeType, Data: data}}
}

// IsImage reports whether the part carries image data.
func (p ContentPart) IsImage() bool {
	return p.Image != nil
}

// Message represents a conversation message composed of ordered content parts.
// A request carries at most one system message, and it comes first.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// NewMessage creates a message with a single text part.
func NewMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{TextPart(text)}}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(text string) Message {
	return NewMessage(RoleSystem, text)
}

// NewUserMessage creates a new user message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, text)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(text string) Message {
	return NewMessage(RoleAssistant, text)
}

// WithImage appends an inline image part to the message.
func (m Message) WithImage(mimeType string, data []byte) Message {
	m.Parts = append(m.Parts, ImagePart(mimeType, data))
	return m
}

// Text returns the concatenation of all text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

// HasImage reports whether any part carries image data.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.IsImage() {
			return true
		}
	}
	return false
}

// AppendText appends a text part to the message in place.
func (m *Message) AppendText(text string) {
	m.Parts = append(m.Parts, TextPart(text))
}

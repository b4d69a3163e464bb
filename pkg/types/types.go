// Package types defines the shared types used across all doppelganger packages.
//
// These types form the lingua franca between providers and the extraction
// pipeline. Each package defines its own domain types; cross-cutting data
// structures live here to avoid circular imports.
package types

// Image is a binary image attached to a model message.
type Image struct {
	// MediaType is the IANA media type of Data (e.g., "image/jpeg", "image/png").
	MediaType string

	// Data holds the raw (not base64-encoded) image bytes.
	Data []byte
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Images holds optional image attachments. Only "user" messages may carry
	// images, and only providers whose ModelCapabilities.SupportsVision is
	// true will honour them.
	Images []Image
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool
}

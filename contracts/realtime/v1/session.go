package v1

// Voices.
const (
	VoiceAlloy   = "alloy"
	VoiceShimmer = "shimmer"
	VoiceEcho    = "echo"
)

// Audio formats.
const (
	AudioFormatPCM16    = "pcm16"
	AudioFormatG711ULaw = "g711-ulaw"
	AudioFormatG711ALaw = "g711-alaw"
)

// Modalities.
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// Turn detection and transcription defaults.
const (
	TurnDetectionServerVAD = "server_vad"
	TranscriptionWhisper1  = "whisper-1"
)

// Roles and item types used by conversation.item.create.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"

	ContentInputText  = "input_text"
	ContentInputAudio = "input_audio"
	ContentText       = "text"
)

// ---- session configuration ----

// TurnDetection configures server-side voice activity detection.
// A nil *TurnDetection in SessionConfig leaves the server default untouched.
type TurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS *int     `json:"silence_duration_ms,omitempty"`
}

// InputAudioTranscription enables transcription of committed input audio.
type InputAudioTranscription struct {
	Model string `json:"model"`
}

// Tool is a function tool definition.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SessionConfig is the mutable part of a session.
type SessionConfig struct {
	Model                   string                   `json:"model,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	Tools                   []Tool                   `json:"tools,omitempty"`
	ToolChoice              any                      `json:"tool_choice,omitempty"`
	Temperature             *float64                 `json:"temperature,omitempty"`
	MaxResponseOutputTokens any                      `json:"max_response_output_tokens,omitempty"`
}

// ContentPart is one piece of message content.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item (message, function call, or function call output).
type Item struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// UserText returns a user message item with a single input_text part.
func UserText(text string) Item {
	return Item{
		Type:    ItemTypeMessage,
		Role:    RoleUser,
		Content: []ContentPart{{Type: ContentInputText, Text: text}},
	}
}

// ResponseParams overrides session settings for one response.
type ResponseParams struct {
	Modalities        []string `json:"modalities,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	MaxOutputTokens   any      `json:"max_output_tokens,omitempty"`
	Tools             []Tool   `json:"tools,omitempty"`
	ToolChoice        any      `json:"tool_choice,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
}

// ---- client payloads ----

// SessionUpdate updates the session configuration.
type SessionUpdate struct {
	Session SessionConfig `json:"session"`
}

// InputAudioBufferAppend appends base64 PCM16 audio to the input buffer.
type InputAudioBufferAppend struct {
	Audio string `json:"audio"`
}

// InputAudioBufferCommit commits the input buffer as a user item.
type InputAudioBufferCommit struct{}

// InputAudioBufferClear drops buffered input audio.
type InputAudioBufferClear struct{}

// ItemCreate inserts an item into the conversation.
type ItemCreate struct {
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// ItemTruncate truncates an assistant audio item.
type ItemTruncate struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

// ItemDelete removes an item from the conversation.
type ItemDelete struct {
	ItemID string `json:"item_id"`
}

// ResponseCreate asks the server to produce a response.
type ResponseCreate struct {
	Response *ResponseParams `json:"response,omitempty"`
}

// ResponseCancel cancels the in-flight response.
type ResponseCancel struct{}

func (SessionUpdate) ClientMessageType() string          { return TypeSessionUpdate }
func (InputAudioBufferAppend) ClientMessageType() string { return TypeInputAudioBufferAppend }
func (InputAudioBufferCommit) ClientMessageType() string { return TypeInputAudioBufferCommit }
func (InputAudioBufferClear) ClientMessageType() string  { return TypeInputAudioBufferClear }
func (ItemCreate) ClientMessageType() string             { return TypeItemCreate }
func (ItemTruncate) ClientMessageType() string           { return TypeItemTruncate }
func (ItemDelete) ClientMessageType() string             { return TypeItemDelete }
func (ResponseCreate) ClientMessageType() string         { return TypeResponseCreate }
func (ResponseCancel) ClientMessageType() string         { return TypeResponseCancel }

// ---- server payloads (decoded on demand via ServerMessage.Decode) ----

// RealtimeError is the body of an "error" event.
type RealtimeError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ErrorEvent is the "error" server event.
type ErrorEvent struct {
	Error RealtimeError `json:"error"`
}

// Session is the server's view of the session.
type Session struct {
	ID string `json:"id"`
	SessionConfig
}

// SessionEvent covers session.created and session.updated.
type SessionEvent struct {
	Session Session `json:"session"`
}

// DeltaEvent covers the streaming text, audio and transcript delta events.
type DeltaEvent struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// TranscriptionCompletedEvent is emitted when input audio has been transcribed.
type TranscriptionCompletedEvent struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// Usage reports token accounting for a response.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the server's view of a response.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Usage  *Usage `json:"usage,omitempty"`
}

// ResponseEvent covers response.created and response.done.
type ResponseEvent struct {
	Response Response `json:"response"`
}

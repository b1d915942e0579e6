package protocol

// ToolSpec advertises one callable tool in the session configuration.
type ToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SessionConfig is the immutable snapshot of negotiated session parameters.
// It is replayed verbatim after every reconnect; updates produce a new value
// rather than mutating an existing one.
type SessionConfig struct {
	Voice              string     `json:"voice"`
	Modalities         []string   `json:"modalities"`
	InputAudioFormat   string     `json:"input_audio_format"`
	OutputAudioFormat  string     `json:"output_audio_format"`
	TranscriptionModel string     `json:"-"`
	Tools              []ToolSpec `json:"tools,omitempty"`
}

type sessionPayload struct {
	Voice             string     `json:"voice"`
	Modalities        []string   `json:"modalities"`
	InputAudioFormat  string     `json:"input_audio_format"`
	OutputAudioFormat string     `json:"output_audio_format"`
	Transcription     *struct {
		Model string `json:"model"`
	} `json:"input_audio_transcription,omitempty"`
	Tools []ToolSpec `json:"tools,omitempty"`
}

type SessionUpdate struct {
	Type    EventType      `json:"type"`
	Session sessionPayload `json:"session"`
}

// NewSessionUpdate builds the session.update message for cfg. It is a pure
// function of its input so reconnect paths can replay it without tracking
// any "already configured" state.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	payload := sessionPayload{
		Voice:             cfg.Voice,
		Modalities:        cfg.Modalities,
		InputAudioFormat:  cfg.InputAudioFormat,
		OutputAudioFormat: cfg.OutputAudioFormat,
		Tools:             cfg.Tools,
	}
	if cfg.TranscriptionModel != "" {
		payload.Transcription = &struct {
			Model string `json:"model"`
		}{Model: cfg.TranscriptionModel}
	}
	return SessionUpdate{Type: TypeSessionUpdate, Session: payload}
}

type InputAudioAppend struct {
	Type  EventType `json:"type"`
	Audio string    `json:"audio"`
}

func NewInputAudioAppend(audioBase64 string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: audioBase64}
}

type InputAudioCommit struct {
	Type EventType `json:"type"`
}

func NewInputAudioCommit() InputAudioCommit {
	return InputAudioCommit{Type: TypeInputAudioCommit}
}

type ResponseCreate struct {
	Type EventType `json:"type"`
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

type ResponseCancel struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id"`
}

func NewResponseCancel(responseID string) ResponseCancel {
	return ResponseCancel{Type: TypeResponseCancel, ResponseID: responseID}
}

type ItemRetrieve struct {
	Type   EventType `json:"type"`
	ItemID string    `json:"item_id"`
}

func NewItemRetrieve(itemID string) ItemRetrieve {
	return ItemRetrieve{Type: TypeItemRetrieve, ItemID: itemID}
}

type ItemDelete struct {
	Type   EventType `json:"type"`
	ItemID string    `json:"item_id"`
}

func NewItemDelete(itemID string) ItemDelete {
	return ItemDelete{Type: TypeItemDelete, ItemID: itemID}
}

type ItemCreate struct {
	Type           EventType `json:"type"`
	PreviousItemID string    `json:"previous_item_id,omitempty"`
	Item           Item      `json:"item"`
}

// NewSummaryItemCreate builds the system item carrying a conversation
// summary, anchored at the root so it precedes the kept turns.
func NewSummaryItemCreate(itemID, text string) ItemCreate {
	return ItemCreate{
		Type:           TypeItemCreate,
		PreviousItemID: "root",
		Item: Item{
			ID:      itemID,
			Type:    "message",
			Role:    "system",
			Content: []ItemContent{{Type: "input_text", Text: text}},
		},
	}
}

type OutputItemCreate struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id,omitempty"`
	Item       Item      `json:"item"`
}

// NewToolResult builds the tool_result item answering a routed tool call.
func NewToolResult(responseID, callID, text string) OutputItemCreate {
	return OutputItemCreate{
		Type:       TypeOutputItemCreate,
		ResponseID: responseID,
		Item: Item{
			Type:    "tool_result",
			CallID:  callID,
			Content: []ItemContent{{Type: "output_text", Text: text}},
		},
	}
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies realtime wire payload variants.
type EventType string

const (
	// Inbound (server -> client).
	TypeSessionCreated     EventType = "session.created"
	TypeItemCreated        EventType = "conversation.item.created"
	TypeItemRetrieved      EventType = "conversation.item.retrieved"
	TypeResponseCreated    EventType = "response.created"
	TypeResponseAudioDelta EventType = "response.audio.delta"
	TypeResponseDone       EventType = "response.done"
	TypeResponseError      EventType = "response.error"
	TypeToolCall           EventType = "tool_call"

	// Outbound (client -> server).
	TypeSessionUpdate    EventType = "session.update"
	TypeInputAudioAppend EventType = "input_audio_buffer.append"
	TypeInputAudioCommit EventType = "input_audio_buffer.commit"
	TypeResponseCreate   EventType = "response.create"
	TypeResponseCancel   EventType = "response.cancel"
	TypeItemCreate       EventType = "conversation.item.create"
	TypeItemDelete       EventType = "conversation.item.delete"
	TypeItemRetrieve     EventType = "conversation.item.retrieve"
	TypeOutputItemCreate EventType = "response.output_item.create"
)

var ErrUnsupportedType = errors.New("unsupported event type")

type Envelope struct {
	Type EventType `json:"type"`
}

// ItemContent is one content part of a conversation item.
type ItemContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is the inner conversation item object.
type Item struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   []ItemContent   `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TranscriptText returns the first non-empty transcript or text part.
func (it Item) TranscriptText() string {
	for _, c := range it.Content {
		if c.Transcript != "" {
			return c.Transcript
		}
		if c.Text != "" {
			return c.Text
		}
	}
	return ""
}

type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

type SessionCreated struct {
	Type    EventType `json:"type"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type ItemCreated struct {
	Type EventType `json:"type"`
	Item Item      `json:"item"`
}

type ItemRetrieved struct {
	Type EventType `json:"type"`
	Item Item      `json:"item"`
}

type ResponseCreated struct {
	Type     EventType `json:"type"`
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

type ResponseAudioDelta struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id"`
	Delta      string    `json:"delta"`
}

type ResponseDone struct {
	Type     EventType `json:"type"`
	Response struct {
		ID     string `json:"id"`
		Output []Item `json:"output"`
		Usage  Usage  `json:"usage"`
	} `json:"response"`
}

type ResponseError struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id,omitempty"`
	Error      struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type ToolCall struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id,omitempty"`
	Item       Item      `json:"item"`
}

// ParseServerEvent decodes one inbound wire message into its typed form.
// Unknown types return ErrUnsupportedType so the receive loop can count and
// skip them without dropping the connection.
func ParseServerEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionCreated:
		var ev SessionCreated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeItemCreated:
		var ev ItemCreated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.Item.ID == "" {
			return nil, errors.New("invalid conversation.item.created: missing item id")
		}
		return ev, nil
	case TypeItemRetrieved:
		var ev ItemRetrieved
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.Item.ID == "" {
			return nil, errors.New("invalid conversation.item.retrieved: missing item id")
		}
		return ev, nil
	case TypeResponseCreated:
		var ev ResponseCreated
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeResponseAudioDelta:
		var ev ResponseAudioDelta
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.ResponseID == "" || ev.Delta == "" {
			return nil, errors.New("invalid response.audio.delta")
		}
		return ev, nil
	case TypeResponseDone:
		var ev ResponseDone
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeResponseError:
		var ev ResponseError
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeToolCall:
		var ev ToolCall
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.Item.Name == "" || ev.Item.CallID == "" {
			return nil, errors.New("invalid tool_call")
		}
		return ev, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the event type tag of a parsed server event.
func TypeOf(event any) EventType {
	switch ev := event.(type) {
	case SessionCreated:
		return ev.Type
	case ItemCreated:
		return ev.Type
	case ItemRetrieved:
		return ev.Type
	case ResponseCreated:
		return ev.Type
	case ResponseAudioDelta:
		return ev.Type
	case ResponseDone:
		return ev.Type
	case ResponseError:
		return ev.Type
	case ToolCall:
		return ev.Type
	default:
		return ""
	}
}

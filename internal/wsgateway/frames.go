package wsgateway

import (
	"time"

	"github.com/ashureev/convo-gateway/internal/convo"
	"github.com/ashureev/convo-gateway/internal/gatewayerr"
	"github.com/ashureev/convo-gateway/internal/intents"
	"github.com/ashureev/convo-gateway/internal/tools"
)

// Client->server frame types.
const (
	frameTypePing             = "PING"
	frameTypeUserMessage      = "USER_MESSAGE"
	frameTypeSubscribe        = "SUBSCRIBE"
	frameTypeUnsubscribe      = "UNSUBSCRIBE"
	frameTypeGetSubscriptions = "GET_SUBSCRIPTIONS"
)

// inboundFrame is the tagged variant covering every client->server frame.
// Unknown types land in the catch-all ERROR path in the hub's router.
type inboundFrame struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	Content   string   `json:"content,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

type connectionEstablishedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

type pongFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type subscriptionsFrame struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	Timestamp int64    `json:"timestamp"`
}

type errorBody struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Timestamp  int64  `json:"timestamp"`
}

type errorFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Error     errorBody `json:"error"`
	Timestamp int64     `json:"timestamp"`
}

type assistantMessageFrame struct {
	Type      string           `json:"type"`
	Message   assistantPayload `json:"message"`
	Timestamp int64            `json:"timestamp"`
}

// assistantPayload is the wire shape of the conversation manager's
// assistant message.
type assistantPayload struct {
	ID          string              `json:"id"`
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Timestamp   int64               `json:"timestamp"`
	UIIntents   []uiIntentPayload   `json:"uiIntents,omitempty"`
	ToolResults []toolResultPayload `json:"toolResults,omitempty"`
	Context     *contextPayload     `json:"context,omitempty"`
	Error       *errorPayload       `json:"error,omitempty"`
}

type uiIntentPayload struct {
	Type      string         `json:"type"`
	Component string         `json:"component"`
	Props     map[string]any `json:"props"`
}

type toolResultPayload struct {
	ToolName            string         `json:"toolName"`
	Parameters          map[string]any `json:"parameters"`
	Result              any            `json:"result,omitempty"`
	ExecutionTime       int64          `json:"executionTime"`
	Success             bool           `json:"success"`
	Error               string         `json:"error,omitempty"`
	ErrorCode           string         `json:"errorCode,omitempty"`
	RecoverySuggestions []string       `json:"recoverySuggestions,omitempty"`
	FromCache           bool           `json:"fromCache,omitempty"`
	DataFreshness       string         `json:"dataFreshness,omitempty"`
}

type contextPayload struct {
	Intent    convo.IntentClassification `json:"intent"`
	ToolsUsed []string                   `json:"toolsUsed"`
}

type errorPayload struct {
	Code        string   `json:"code"`
	Retryable   bool     `json:"retryable"`
	Suggestions []string `json:"suggestions"`
}

func newErrorFrame(id, message string, code gatewayerr.Code, statusCode int) errorFrame {
	now := time.Now().UnixMilli()
	return errorFrame{
		Type: "ERROR",
		ID:   id,
		Error: errorBody{
			Message:    message,
			Code:       string(code),
			StatusCode: statusCode,
			Timestamp:  now,
		},
		Timestamp: now,
	}
}

func toAssistantFrame(msg convo.Message) assistantMessageFrame {
	payload := assistantPayload{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UnixMilli(),
	}
	for _, in := range msg.UIIntents {
		payload.UIIntents = append(payload.UIIntents, toUIIntentPayload(in))
	}
	for _, tr := range msg.ToolResults {
		payload.ToolResults = append(payload.ToolResults, toToolResultPayload(tr))
	}
	if msg.Context != nil {
		payload.Context = &contextPayload{
			Intent:    msg.Context.Intent,
			ToolsUsed: msg.Context.ToolsUsed,
		}
	}
	if msg.Error != nil {
		payload.Error = &errorPayload{
			Code:        msg.Error.Code,
			Retryable:   msg.Error.Retryable,
			Suggestions: msg.Error.Suggestions,
		}
	}
	return assistantMessageFrame{
		Type:      "ASSISTANT_MESSAGE",
		Message:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

func toUIIntentPayload(in intents.Intent) uiIntentPayload {
	return uiIntentPayload{Type: in.Type, Component: in.Component, Props: in.Props}
}

func toToolResultPayload(tr tools.Result) toolResultPayload {
	return toolResultPayload{
		ToolName:            tr.ToolName,
		Parameters:          tr.Parameters,
		Result:              tr.Result,
		ExecutionTime:       tr.ExecutionTime,
		Success:             tr.Success,
		Error:               tr.ErrorMessage,
		ErrorCode:           tr.ErrorCode,
		RecoverySuggestions: tr.RecoverySuggestions,
		FromCache:           tr.FromCache,
		DataFreshness:       tr.DataFreshness,
	}
}

package chat

import "time"

// Turn is one prior message in the conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Request is one inbound chat turn, identity already resolved.
type Request struct {
	TenantID  string
	SessionID string
	Message   string
	History   []Turn
}

// Response is the non-streaming reply shape.
type Response struct {
	Response       string `json:"response"`
	IsLimitReached bool   `json:"isLimitReached,omitempty"`
	LimitType      string `json:"limitType,omitempty"`
	Language       string `json:"language,omitempty"`
}

// FrameType tags a streaming frame.
type FrameType string

const (
	FrameStart    FrameType = "start"
	FrameContent  FrameType = "content"
	FrameDone     FrameType = "done"
	FrameFallback FrameType = "fallback"
)

// TenantInfo is the tenant context announced in the start frame.
type TenantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Frame is one newline-delimited JSON frame of a chat stream.
type Frame struct {
	Type     FrameType   `json:"type"`
	Tenant   *TenantInfo `json:"tenant,omitempty"`
	Content  string      `json:"content,omitempty"`
	Response string      `json:"response,omitempty"`
	Error    string      `json:"error,omitempty"`

	// Limit metadata accompanies the content frame of a blocked request.
	IsLimitReached bool   `json:"isLimitReached,omitempty"`
	LimitType      string `json:"limitType,omitempty"`
	Language       string `json:"language,omitempty"`
}

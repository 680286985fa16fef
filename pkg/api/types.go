package api

import "github.com/shopassist/chatgate/pkg/chat"

// chatRequest is one inbound chat turn.
type chatRequest struct {
	Message             string      `json:"message"`
	SessionID           string      `json:"sessionId"`
	ConversationHistory []chat.Turn `json:"conversationHistory"`
}

// errorResponse is the structured client error body. Malformed requests are
// the only case that returns a non-2xx status; every other failure is
// absorbed into a chat-shaped reply.
type errorResponse struct {
	Error string `json:"error"`
}

// resetRequest optionally narrows an admin-triggered reset to explicit ids.
type resetRequest struct {
	SubscriptionIDs []string `json:"subscriptionIds"`
}

// usageResponse is the quota inspection shape.
type usageResponse struct {
	TenantID         string         `json:"tenantId"`
	Plan             string         `json:"plan"`
	Status           string         `json:"status"`
	DailyUsed        int            `json:"dailyUsed"`
	DailyLimit       int            `json:"dailyLimit"`
	DailyRemaining   int            `json:"dailyRemaining"`
	MonthlyUsed      int            `json:"monthlyUsed"`
	MonthlyLimit     int            `json:"monthlyLimit"`
	MonthlyRemaining int            `json:"monthlyRemaining"`
	Timezone         string         `json:"timezone"`
	DailyReset       dailyResetInfo `json:"dailyReset"`
}

type dailyResetInfo struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	TotalSeconds int `json:"totalSeconds"`
}

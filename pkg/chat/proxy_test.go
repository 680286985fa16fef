package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/upstream"
	"github.com/shopassist/chatgate/storage/memory"
)

func seedTenant(t *testing.T, store *memory.Store, mutate func(*quota.Subscription)) {
	t.Helper()

	now := time.Now().UTC()
	sub := &quota.Subscription{
		ID:               "sub-1",
		TenantID:         "tenant-1",
		TenantName:       "Acme Gear",
		Plan:             quota.PlanStarter,
		Status:           quota.StatusActive,
		MonthlyLimit:     1000,
		DailyLimit:       50,
		Timezone:         "UTC",
		LastMonthlyReset: now,
		LastDailyReset:   now,
	}
	if mutate != nil {
		mutate(sub)
	}
	if err := store.PutSubscription(context.Background(), sub); err != nil {
		t.Fatalf("PutSubscription failed: %v", err)
	}
}

func newTestProxy(t *testing.T, store *memory.Store, upstreamURL, apiKey string) *Proxy {
	t.Helper()

	engine, err := quota.NewEngine(store, quota.Config{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	client := upstream.New(upstream.Config{
		BaseURL:      upstreamURL,
		APIKey:       apiKey,
		Model:        "test-model",
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	proxy, err := NewProxy(engine, client, Config{})
	if err != nil {
		t.Fatalf("NewProxy failed: %v", err)
	}
	return proxy
}

func sseHandler(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			fmt.Fprintf(w, `data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func collectFrames(frames <-chan Frame) []Frame {
	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	return got
}

func dailyUsed(t *testing.T, store *memory.Store) int {
	t.Helper()
	sub, err := store.GetSubscription(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	return sub.DailyUsed
}

func TestStream_HappyPathChargesOnce(t *testing.T) {
	srv := httptest.NewServer(sseHandler("Hel", "lo"))
	defer srv.Close()

	store := memory.New()
	seedTenant(t, store, nil)
	proxy := newTestProxy(t, store, srv.URL, "test-key")

	frames := collectFrames(proxy.Stream(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "hi there",
	}))

	want := []FrameType{FrameStart, FrameContent, FrameContent, FrameDone}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames (%+v), want %d", len(frames), frames, len(want))
	}
	for i, ft := range want {
		if frames[i].Type != ft {
			t.Errorf("frame %d type = %s, want %s", i, frames[i].Type, ft)
		}
	}
	if frames[0].Tenant == nil || frames[0].Tenant.Name != "Acme Gear" {
		t.Errorf("start frame tenant = %+v, want the store name", frames[0].Tenant)
	}
	if frames[1].Content+frames[2].Content != "Hello" {
		t.Errorf("content = %q, want %q", frames[1].Content+frames[2].Content, "Hello")
	}

	if got := dailyUsed(t, store); got != 1 {
		t.Errorf("DailyUsed = %d, want exactly 1", got)
	}
}

func TestStream_DailyBlockedNotCharged(t *testing.T) {
	store := memory.New()
	seedTenant(t, store, func(sub *quota.Subscription) {
		sub.DailyUsed = 50
	})
	proxy := newTestProxy(t, store, "http://unused.invalid", "test-key")

	frames := collectFrames(proxy.Stream(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "hello",
	}))

	want := []FrameType{FrameStart, FrameContent, FrameDone}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames (%+v), want %d", len(frames), frames, len(want))
	}
	notice := frames[1]
	if !notice.IsLimitReached {
		t.Error("content frame should flag the limit")
	}
	if notice.LimitType != "daily" {
		t.Errorf("LimitType = %q, want daily", notice.LimitType)
	}
	if notice.Language != "en" {
		t.Errorf("Language = %q, want en", notice.Language)
	}
	if notice.Content == "" {
		t.Error("notice content is empty")
	}

	if got := dailyUsed(t, store); got != 50 {
		t.Errorf("DailyUsed = %d, blocked request must not be charged", got)
	}
}

func TestStream_BlockedNoticeLocalized(t *testing.T) {
	store := memory.New()
	seedTenant(t, store, func(sub *quota.Subscription) {
		sub.MonthlyUsed = 1000
	})
	proxy := newTestProxy(t, store, "http://unused.invalid", "test-key")

	frames := collectFrames(proxy.Stream(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "مرحبا، هل يمكنني المساعدة؟",
	}))

	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	notice := frames[1]
	if notice.Language != "ar" {
		t.Errorf("Language = %q, want ar", notice.Language)
	}
	if notice.LimitType != "monthly" {
		t.Errorf("LimitType = %q, want monthly", notice.LimitType)
	}
	if notice.Content != notices["ar"].monthly {
		t.Errorf("notice = %q, want the Arabic monthly notice", notice.Content)
	}
}

func TestStream_InactiveBlocked(t *testing.T) {
	store := memory.New()
	seedTenant(t, store, func(sub *quota.Subscription) {
		sub.Status = quota.StatusCancelled
	})
	proxy := newTestProxy(t, store, "http://unused.invalid", "test-key")

	frames := collectFrames(proxy.Stream(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "hello",
	}))

	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	notice := frames[1]
	if notice.IsLimitReached {
		t.Error("inactive subscription is not a limit condition")
	}
	if notice.LimitType != "" {
		t.Errorf("LimitType = %q, want empty", notice.LimitType)
	}
}

func TestStream_UpstreamDownFallsBackAndCharges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := memory.New()
	seedTenant(t, store, nil)
	proxy := newTestProxy(t, store, srv.URL, "test-key")

	frames := collectFrames(proxy.Stream(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "is this item in stock?",
	}))

	want := []FrameType{FrameStart, FrameFallback}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames (%+v), want %d", len(frames), frames, len(want))
	}
	fb := frames[1]
	if fb.Response == "" {
		t.Error("fallback frame carries no response")
	}
	if !strings.Contains(fb.Response, "Acme Gear") {
		t.Errorf("fallback %q does not mention the store", fb.Response)
	}
	if fb.Error == "" {
		t.Error("fallback frame should carry the upstream error")
	}

	if got := dailyUsed(t, store); got != 1 {
		t.Errorf("DailyUsed = %d, fallback replies are charged", got)
	}
}

func TestStream_MidStreamFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer srv.Close()

	store := memory.New()
	seedTenant(t, store, nil)
	proxy := newTestProxy(t, store, srv.URL, "test-key")

	frames := collectFrames(proxy.Stream(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "hello",
	}))

	want := []FrameType{FrameStart, FrameContent, FrameFallback}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames (%+v), want %d", len(frames), frames, len(want))
	}
	for i, ft := range want {
		if frames[i].Type != ft {
			t.Errorf("frame %d type = %s, want %s", i, frames[i].Type, ft)
		}
	}

	if got := dailyUsed(t, store); got != 1 {
		t.Errorf("DailyUsed = %d, want exactly 1", got)
	}
}

func TestStream_NotConfiguredFallsBack(t *testing.T) {
	store := memory.New()
	seedTenant(t, store, nil)
	proxy := newTestProxy(t, store, "", "")

	frames := collectFrames(proxy.Stream(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "thanks!",
	}))

	if len(frames) != 2 || frames[1].Type != FrameFallback {
		t.Fatalf("got %+v, want start then fallback", frames)
	}
	if frames[1].Error != "" {
		t.Errorf("no upstream error to report, got %q", frames[1].Error)
	}
	if got := dailyUsed(t, store); got != 1 {
		t.Errorf("DailyUsed = %d, want 1", got)
	}
}

func TestStream_CancelledBeforeOutputNotCharged(t *testing.T) {
	store := memory.New()
	seedTenant(t, store, nil)
	proxy := newTestProxy(t, store, "http://unused.invalid", "test-key")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	collectFrames(proxy.Stream(ctx, &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "hello",
	}))

	if got := dailyUsed(t, store); got != 0 {
		t.Errorf("DailyUsed = %d, cancellation before output must not charge", got)
	}
}

func TestRespond_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(upstream.CompletionResponse{
			Choices: []upstream.Choice{{Message: upstream.Message{Role: "assistant", Content: "Sure, we ship worldwide."}}},
		})
	}))
	defer srv.Close()

	store := memory.New()
	seedTenant(t, store, nil)
	proxy := newTestProxy(t, store, srv.URL, "test-key")

	resp, err := proxy.Respond(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "do you ship worldwide?",
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Response != "Sure, we ship worldwide." {
		t.Errorf("Response = %q", resp.Response)
	}
	if resp.IsLimitReached {
		t.Error("IsLimitReached should be false")
	}
	if got := dailyUsed(t, store); got != 1 {
		t.Errorf("DailyUsed = %d, want 1", got)
	}
}

func TestRespond_Blocked(t *testing.T) {
	store := memory.New()
	seedTenant(t, store, func(sub *quota.Subscription) {
		sub.DailyUsed = 50
	})
	proxy := newTestProxy(t, store, "http://unused.invalid", "test-key")

	resp, err := proxy.Respond(context.Background(), &Request{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Message:   "hello",
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !resp.IsLimitReached || resp.LimitType != "daily" {
		t.Errorf("got %+v, want a daily limit notice", resp)
	}
	if got := dailyUsed(t, store); got != 50 {
		t.Errorf("DailyUsed = %d, blocked request must not be charged", got)
	}
}

func TestBuildRequest_HistoryWindow(t *testing.T) {
	store := memory.New()
	seedTenant(t, store, nil)
	proxy := newTestProxy(t, store, "http://unused.invalid", "test-key")

	history := make([]Turn, 40)
	for i := range history {
		history[i] = Turn{Role: "user", Content: fmt.Sprintf("turn %d", i)}
	}

	req := proxy.buildRequest(&Request{Message: "latest", History: history}, "Acme Gear")

	// system + 25 most recent turns + the new message.
	if len(req.Messages) != 27 {
		t.Fatalf("len(Messages) = %d, want 27", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", req.Messages[0].Role)
	}
	if !strings.Contains(req.Messages[0].Content, "Acme Gear") {
		t.Errorf("system prompt %q does not mention the store", req.Messages[0].Content)
	}
	if req.Messages[1].Content != "turn 15" {
		t.Errorf("oldest forwarded turn = %q, want turn 15", req.Messages[1].Content)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != "user" || last.Content != "latest" {
		t.Errorf("last message = %+v, want the new user message", last)
	}
	if req.MaxTokens <= 0 || req.MaxTokens > 1024 {
		t.Errorf("MaxTokens = %d, want within budget", req.MaxTokens)
	}
}

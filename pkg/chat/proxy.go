// Package chat relays completion responses to chat callers incrementally,
// gated by the quota engine and degrading to rule-based replies when the
// completion service is unavailable.
//
// Per request the proxy walks a fixed state machine:
//
//	START → LIMIT_CHECK → {BLOCKED | STREAMING} → {DONE | FALLBACK} → CHARGED
//
// A blocked request is answered with a localized notice as an ordinary
// assistant message and is never charged. A served request is charged
// exactly once, whether the content came from upstream or from the fallback
// responder.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shopassist/chatgate/pkg/fallback"
	"github.com/shopassist/chatgate/pkg/langdetect"
	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/upstream"
)

// Config holds proxy configuration.
type Config struct {
	// HistoryWindow bounds how many recent turns are forwarded upstream
	// (default 25).
	HistoryWindow int

	// Temperature for upstream completions (default 0.7).
	Temperature float64

	// SkipChargeOnCancel disables charging client-initiated mid-stream
	// disconnects. By default a cancelled request is charged once at
	// least one content frame was forwarded: the tenant's visitor saw
	// output. Cancellation before any output is never charged.
	SkipChargeOnCancel bool

	Logger  quota.Logger
	Metrics quota.Metrics
}

// Proxy gates, streams and charges chat requests.
type Proxy struct {
	engine   *quota.Engine
	upstream *upstream.Client
	config   Config
}

// NewProxy creates a streaming proxy over the given engine and upstream
// client.
func NewProxy(engine *quota.Engine, up *upstream.Client, config Config) (*Proxy, error) {
	if engine == nil {
		return nil, fmt.Errorf("quota engine is required")
	}
	if up == nil {
		return nil, fmt.Errorf("upstream client is required")
	}

	if config.HistoryWindow <= 0 {
		config.HistoryWindow = 25
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &quota.NoopMetrics{}
	}
	return &Proxy{engine: engine, upstream: up, config: config}, nil
}

// Stream serves one chat turn as a sequence of typed frames on a bounded
// channel. The channel is closed when the request is finished; callers stop
// reading by cancelling ctx.
func (p *Proxy) Stream(ctx context.Context, req *Request) <-chan Frame {
	frames := make(chan Frame, 16)
	go p.run(ctx, req, frames)
	return frames
}

func (p *Proxy) run(ctx context.Context, req *Request, frames chan<- Frame) {
	defer close(frames)

	requestID := uuid.NewString()
	started := time.Now()
	log := func(level func(string, ...quota.Field), msg string, fields ...quota.Field) {
		level(msg, append(fields,
			quota.Field{Key: "request_id", Value: requestID},
			quota.Field{Key: "tenant_id", Value: req.TenantID})...)
	}

	check, err := p.engine.CheckLimits(ctx, req.TenantID)
	if err != nil {
		// Store outage: absorb, serve a fallback reply, skip the charge
		// (the counter is unreachable anyway).
		log(p.config.Logger.Error, "limit check failed", quota.Field{Key: "error", Value: err.Error()})
		p.config.Metrics.RecordFallback("store_error")
		p.emit(ctx, frames, Frame{Type: FrameFallback, Response: fallback.Generate(req.Message, "", toFallbackTurns(req.History))})
		p.config.Metrics.RecordStreamDuration("fallback", time.Since(started))
		return
	}

	tenant := &TenantInfo{ID: req.TenantID}
	tenantName := ""
	timezone := p.engine.Timezone(check.Subscription)
	if check.Subscription != nil {
		tenant.Name = check.Subscription.TenantName
		tenantName = check.Subscription.TenantName
	}

	if !check.Allowed {
		lang := langdetect.Detect(req.Message)
		notice := blockNotice(check.Reason, lang, timezone)
		log(p.config.Logger.Info, "request blocked",
			quota.Field{Key: "reason", Value: string(check.Reason)},
			quota.Field{Key: "language", Value: lang})

		p.emit(ctx, frames, Frame{Type: FrameStart, Tenant: tenant})
		p.emit(ctx, frames, Frame{
			Type:           FrameContent,
			Content:        notice,
			IsLimitReached: check.Reason != quota.DenyInactive,
			LimitType:      check.Reason.LimitType(),
			Language:       lang,
		})
		p.emit(ctx, frames, Frame{Type: FrameDone})
		p.config.Metrics.RecordStreamDuration("blocked", time.Since(started))
		return
	}

	p.emit(ctx, frames, Frame{Type: FrameStart, Tenant: tenant})

	outcome := "done"
	forwarded := 0

	serveFallback := func(reason string, cause error) {
		p.config.Metrics.RecordFallback(reason)
		frame := Frame{Type: FrameFallback, Response: fallback.Generate(req.Message, tenantName, toFallbackTurns(req.History))}
		if cause != nil {
			frame.Error = cause.Error()
			log(p.config.Logger.Warn, "degrading to fallback responder",
				quota.Field{Key: "reason", Value: reason},
				quota.Field{Key: "error", Value: cause.Error()})
		}
		p.emit(ctx, frames, frame)
		outcome = "fallback"
	}

	if !p.upstream.Configured() {
		serveFallback("not_configured", nil)
	} else {
		chunks, err := p.upstream.StreamCompletion(ctx, p.buildRequest(req, tenantName))
		if err != nil {
			if ctx.Err() != nil {
				p.finish(ctx, req, started, "cancelled", forwarded, log)
				return
			}
			serveFallback("connect_failed", err)
		} else {
			for chunk := range chunks {
				if chunk.Err != nil {
					// Terminal mid-stream failure: never retried.
					serveFallback("stream_error", chunk.Err)
					break
				}
				p.emit(ctx, frames, Frame{Type: FrameContent, Content: chunk.Content})
				forwarded++
			}
			if ctx.Err() != nil {
				p.finish(ctx, req, started, "cancelled", forwarded, log)
				return
			}
			if outcome == "done" {
				p.emit(ctx, frames, Frame{Type: FrameDone})
			}
		}
	}

	p.finish(ctx, req, started, outcome, forwarded, log)
}

// finish issues the single ConsumeOne for a served request. Cancelled
// requests are charged only when output was already forwarded and the
// policy says so. A failed consume means this request lost the race to a
// concurrent one: log and proceed, never retry or double-charge.
func (p *Proxy) finish(ctx context.Context, req *Request, started time.Time, outcome string, forwarded int, log func(func(string, ...quota.Field), string, ...quota.Field)) {
	p.config.Metrics.RecordStreamDuration(outcome, time.Since(started))

	if outcome == "cancelled" && (forwarded == 0 || p.config.SkipChargeOnCancel) {
		log(p.config.Logger.Info, "cancelled before output, not charged")
		return
	}

	// The stream context is dead once the caller disconnects; charge on a
	// fresh context so cancellation cannot skip accounting.
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	res, err := p.engine.ConsumeOne(chargeCtx, req.TenantID)
	switch {
	case err != nil:
		log(p.config.Logger.Error, "charge failed", quota.Field{Key: "error", Value: err.Error()})
	case !res.Success:
		log(p.config.Logger.Warn, "charge lost race, proceeding uncharged")
	default:
		log(p.config.Logger.Debug, "request charged",
			quota.Field{Key: "daily_remaining", Value: res.DailyRemaining},
			quota.Field{Key: "monthly_remaining", Value: res.MonthlyRemaining})
	}
}

// Respond serves one chat turn without streaming. The same gate, fallback
// and single-charge rules apply; the upstream call is bounded by the
// client's non-streaming timeout.
func (p *Proxy) Respond(ctx context.Context, req *Request) (*Response, error) {
	check, err := p.engine.CheckLimits(ctx, req.TenantID)
	if err != nil {
		p.config.Metrics.RecordFallback("store_error")
		return &Response{Response: fallback.Generate(req.Message, "", toFallbackTurns(req.History))}, nil
	}

	tenantName := ""
	timezone := p.engine.Timezone(check.Subscription)
	if check.Subscription != nil {
		tenantName = check.Subscription.TenantName
	}

	if !check.Allowed {
		lang := langdetect.Detect(req.Message)
		return &Response{
			Response:       blockNotice(check.Reason, lang, timezone),
			IsLimitReached: check.Reason != quota.DenyInactive,
			LimitType:      check.Reason.LimitType(),
			Language:       lang,
		}, nil
	}

	var reply string
	if p.upstream.Configured() {
		reply, err = p.upstream.Complete(ctx, p.buildRequest(req, tenantName))
		if err != nil {
			p.config.Logger.Warn("completion failed, degrading to fallback responder",
				quota.Field{Key: "tenant_id", Value: req.TenantID},
				quota.Field{Key: "error", Value: err.Error()})
		}
	}
	if reply == "" {
		p.config.Metrics.RecordFallback(fallback.Category(req.Message))
		reply = fallback.Generate(req.Message, tenantName, toFallbackTurns(req.History))
	}

	if res, err := p.engine.ConsumeOne(ctx, req.TenantID); err != nil {
		p.config.Logger.Error("charge failed",
			quota.Field{Key: "tenant_id", Value: req.TenantID},
			quota.Field{Key: "error", Value: err.Error()})
	} else if !res.Success {
		p.config.Logger.Warn("charge lost race, proceeding uncharged",
			quota.Field{Key: "tenant_id", Value: req.TenantID})
	}

	return &Response{Response: reply}, nil
}

// buildRequest assembles the upstream prompt: store context, the most
// recent history window, then the new message.
func (p *Proxy) buildRequest(req *Request, tenantName string) *upstream.CompletionRequest {
	history := req.History
	if len(history) > p.config.HistoryWindow {
		history = history[len(history)-p.config.HistoryWindow:]
	}

	system := "You are a helpful shopping assistant."
	if tenantName != "" {
		system = fmt.Sprintf("You are a helpful shopping assistant for the store %q. Answer concisely and stay on topic.", tenantName)
	}

	messages := make([]upstream.Message, 0, len(history)+2)
	messages = append(messages, upstream.Message{Role: "system", Content: system})
	for _, turn := range history {
		messages = append(messages, upstream.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, upstream.Message{Role: "user", Content: req.Message})

	return &upstream.CompletionRequest{
		Messages:    messages,
		MaxTokens:   tokenBudget(req.Message, history),
		Temperature: p.config.Temperature,
	}
}

// emit forwards a frame unless the caller has gone away.
func (p *Proxy) emit(ctx context.Context, frames chan<- Frame, f Frame) {
	select {
	case frames <- f:
	case <-ctx.Done():
	}
}

func toFallbackTurns(history []Turn) []fallback.Turn {
	turns := make([]fallback.Turn, len(history))
	for i, t := range history {
		turns[i] = fallback.Turn{Role: t.Role, Content: t.Content}
	}
	return turns
}

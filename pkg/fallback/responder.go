// Package fallback generates rule-based replies when the completion service
// is unavailable. It is pure and makes no external calls, so it is always
// available as the last line of degradation.
package fallback

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string
	Content string
}

// category is matched against the inbound text in a fixed priority order.
type category struct {
	name     string
	keywords []string
	template string
}

// Priority order matters: a "thanks for the quick reply" should read as
// gratitude, not as a question about replies.
var categories = []category{
	{
		name:     "greeting",
		keywords: []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening", "hola", "bonjour"},
		template: "Hello! Welcome to %s. How can we help you today?",
	},
	{
		name:     "gratitude",
		keywords: []string{"thank", "thanks", "appreciate", "gracias", "merci"},
		template: "You're very welcome! Thank you for shopping with %s.",
	},
	{
		name:     "complaint",
		keywords: []string{"complaint", "refund", "broken", "wrong", "late", "missing", "damaged", "disappointed"},
		template: "We're sorry to hear that. The %s team takes this seriously and will look into it right away. Could you share your order number?",
	},
	{
		name:     "contact",
		keywords: []string{"contact", "phone", "email", "reach", "call", "speak to", "human", "agent"},
		template: "You can reach the %s team through the contact details on our store page, and we'll get back to you as soon as possible.",
	},
	{
		name:     "product",
		keywords: []string{"price", "cost", "stock", "available", "size", "color", "colour", "shipping", "delivery", "product", "item", "order"},
		template: "Thanks for your interest! For details on products and availability, please browse the %s catalog or leave your question and we'll follow up.",
	},
	{
		name:     "question",
		keywords: []string{"?", "how", "what", "when", "where", "why", "can i", "could", "would"},
		template: "That's a good question! Someone from %s will get back to you with the details shortly.",
	},
}

var genericTemplates = []string{
	"Thanks for contacting %s! We'll get back to you as soon as we can.",
	"Thank you for reaching out to %s. A team member will follow up with you shortly.",
	"We've received your message. The %s team will be in touch soon!",
	"Thanks for your message! %s appreciates your patience while we prepare a reply.",
}

// Generate produces a canned reply for the inbound text. The history
// parameter keeps the signature stable for smarter selection later; the
// current rules do not consult it. Same inputs always yield the same reply.
func Generate(text, tenantName string, history []Turn) string {
	if tenantName == "" {
		tenantName = "our store"
	}

	lower := strings.ToLower(text)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return fmt.Sprintf(c.template, tenantName)
			}
		}
	}

	// Pseudo-random but deterministic generic pick, keyed off the input.
	h := fnv.New32a()
	h.Write([]byte(text))
	tpl := genericTemplates[h.Sum32()%uint32(len(genericTemplates))]
	return fmt.Sprintf(tpl, tenantName)
}

// Category returns the matched category name for text, or "generic". Used
// for metrics labels.
func Category(text string) string {
	lower := strings.ToLower(text)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.name
			}
		}
	}
	return "generic"
}

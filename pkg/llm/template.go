package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Response kinds.
const (
	KindStatusSummary         = "status_summary"
	KindEmergencyNotification = "emergency_notification"
	KindRecommendation        = "recommendation"
)

// TemplateNarrator generates deterministic summaries from canned
// templates keyed by response kind and keywords found in the prompt.
// No model is called; tiktoken enforces the token budget so output
// sizes match what a real backend would return.
type TemplateNarrator struct {
	cfg     Config
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewTemplateNarrator builds a narrator for the configured model. The
// model name only selects the token encoding, which is loaded lazily
// on first use; without it, token budgets degrade to word counts.
func NewTemplateNarrator(cfg Config) (*TemplateNarrator, error) {
	return &TemplateNarrator{cfg: cfg}, nil
}

// encoding loads the token encoding on first call. The tiktoken data
// may need a network fetch, so failures leave enc nil rather than
// blocking construction.
func (n *TemplateNarrator) encoding() *tiktoken.Tiktoken {
	n.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(n.cfg.Model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			slog.Warn("token encoding unavailable, using word counts", "model", n.cfg.Model, "error", err)
			return
		}
		n.enc = enc
	})
	return n.enc
}

func (n *TemplateNarrator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64, kind string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if maxTokens <= 0 {
		maxTokens = n.cfg.MaxTokens
	}
	slog.Debug("generating narration", "kind", kind, "max_tokens", maxTokens)

	var out string
	switch kind {
	case KindEmergencyNotification:
		out = n.emergencyText(prompt)
	case KindRecommendation:
		out = n.recommendationText(prompt)
	default:
		out = n.summaryText(prompt)
	}
	return n.truncate(out, maxTokens), nil
}

func (n *TemplateNarrator) summaryText(prompt string) string {
	p := strings.ToLower(prompt)
	switch {
	case strings.Contains(p, "emergency"):
		return "An active emergency requires immediate attention. Caregivers have been notified and the situation is being escalated until resolved. Please check on the resident as soon as possible."
	case strings.Contains(p, "alert"):
		return "Several readings are outside expected ranges and need prompt review. Monitoring continues and caregivers should follow up today."
	case strings.Contains(p, "attention"):
		return "One area needs attention but there is no immediate danger. Keep an eye on the flagged readings over the next few hours."
	default:
		return "Everything looks normal. Vital signs, activity, reminders and social engagement are all within expected ranges."
	}
}

func (n *TemplateNarrator) emergencyText(prompt string) string {
	p := strings.ToLower(prompt)
	switch {
	case strings.Contains(p, "fall"):
		return "A fall has been detected. Please check on the resident immediately and confirm whether assistance or medical help is needed."
	case strings.Contains(p, "health"):
		return "A critical health reading has been detected. Please verify the resident's condition and contact their physician if it persists."
	default:
		return "An emergency situation has been detected. Please check on the resident immediately."
	}
}

func (n *TemplateNarrator) recommendationText(prompt string) string {
	p := strings.ToLower(prompt)
	switch {
	case strings.Contains(p, "social"), strings.Contains(p, "isolation"):
		return "Consider scheduling a visit or video call. Regular social contact has the biggest effect on day-to-day wellbeing."
	case strings.Contains(p, "reminder"), strings.Contains(p, "medication"):
		return "Reminder acknowledgment has been low. Try a different delivery method or adjust the scheduled times to fit the daily routine."
	default:
		return "Keep the current routine and review the monitoring summary once a day."
	}
}

// truncate cuts the text to at most maxTokens tokens, falling back to
// a word budget when no encoding is available.
func (n *TemplateNarrator) truncate(text string, maxTokens int) string {
	enc := n.encoding()
	if enc == nil {
		words := strings.Fields(text)
		if len(words) <= maxTokens {
			return text
		}
		return strings.Join(words[:maxTokens], " ")
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}

// CountTokens returns the token count of the text under the configured
// encoding, or the word count when the encoding is unavailable.
func (n *TemplateNarrator) CountTokens(text string) int {
	enc := n.encoding()
	if enc == nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}

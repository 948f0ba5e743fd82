package conversation

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayware/cohost-platform/pkg/logging"
)

var escalationTracer = otel.Tracer("cohost/escalation-classifier")

// SentimentScorer provides an advisory urgency/negativity score in [0,1].
// It is a collaborator; its failures never block classification.
type SentimentScorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

type escalationRule struct {
	regex    *regexp.Regexp
	severity Severity
	reason   ReasonCode
	weight   float64
	keyword  string
}

// EscalationClassifier decides whether a guest message can be answered
// automatically or needs a human. Rule matches are the highest-priority
// signal; the sentiment score only ever raises none to notice and never
// de-escalates a rule match. Deterministic given identical inputs.
type EscalationClassifier struct {
	rules     []escalationRule
	scorer    SentimentScorer
	threshold float64
	logger    *logging.Logger
}

// NewEscalationClassifier builds the classifier with the default rule set.
func NewEscalationClassifier(scorer SentimentScorer, threshold float64, logger *logging.Logger) *EscalationClassifier {
	if logger == nil {
		logger = logging.Default()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}

	rules := []escalationRule{
		// Emergencies: life safety always wins outright.
		{regex: regexp.MustCompile(`(?i)\b(gas|propane)\s+(leak|smell)\b`), severity: SeverityEmergency, reason: ReasonSafety, weight: 0.98, keyword: "gas leak"},
		{regex: regexp.MustCompile(`(?i)\bsmell\s+(of\s+)?gas\b`), severity: SeverityEmergency, reason: ReasonSafety, weight: 0.95, keyword: "smell of gas"},
		{regex: regexp.MustCompile(`(?i)\b(fire|smoke|burning)\b.*\b(house|unit|kitchen|apartment|property)\b|\b(house|unit|kitchen|apartment|property)\b.*\b(on fire|smoke|burning)\b`), severity: SeverityEmergency, reason: ReasonSafety, weight: 0.95, keyword: "fire"},
		{regex: regexp.MustCompile(`(?i)\bcarbon\s+monoxide\b|\bCO\s+(alarm|detector)\b`), severity: SeverityEmergency, reason: ReasonSafety, weight: 0.95, keyword: "carbon monoxide"},
		{regex: regexp.MustCompile(`(?i)\b(break[\s-]?in|broke(n)?\s+in|intruder|burglar)\b`), severity: SeverityEmergency, reason: ReasonSafety, weight: 0.95, keyword: "break-in"},
		{regex: regexp.MustCompile(`(?i)\b(call|need)\s+(911|an?\s+ambulance)\b|\bmedical\s+emergency\b`), severity: SeverityEmergency, reason: ReasonSafety, weight: 0.95, keyword: "medical emergency"},
		{regex: regexp.MustCompile(`(?i)\bflood(ing|ed)?\b`), severity: SeverityEmergency, reason: ReasonDamage, weight: 0.9, keyword: "flooding"},

		// Urgent: habitability, money, legal exposure.
		{regex: regexp.MustCompile(`(?i)\b(locked|lock(ed)?)\s+(out|ourselves\s+out)\b`), severity: SeverityUrgent, reason: ReasonSafety, weight: 0.85, keyword: "locked out"},
		{regex: regexp.MustCompile(`(?i)\bno\s+(heat|heating|hot\s+water|power|electricity|running\s+water)\b`), severity: SeverityUrgent, reason: ReasonDamage, weight: 0.85, keyword: "utility outage"},
		{regex: regexp.MustCompile(`(?i)\b(water|pipe)\s+(leak(ing)?|burst)\b|\bleak(ing)?\s+(pipe|ceiling|roof)\b`), severity: SeverityUrgent, reason: ReasonDamage, weight: 0.85, keyword: "water leak"},
		{regex: regexp.MustCompile(`(?i)\b(want|need|demand|get)\s+(a\s+|my\s+)?(full\s+)?refund\b|\bmoney\s+back\b`), severity: SeverityUrgent, reason: ReasonRefund, weight: 0.85, keyword: "refund request"},
		{regex: regexp.MustCompile(`(?i)\b(chargeback|dispute\s+(the\s+)?charge)\b`), severity: SeverityUrgent, reason: ReasonRefund, weight: 0.85, keyword: "chargeback"},
		{regex: regexp.MustCompile(`(?i)\b(lawyer|attorney|lawsuit|legal\s+action|sue|suing)\b`), severity: SeverityUrgent, reason: ReasonLegal, weight: 0.9, keyword: "legal threat"},
		{regex: regexp.MustCompile(`(?i)\b(bed\s*bugs?|cockroach(es)?|rats?|mice|infest(ed|ation))\b`), severity: SeverityUrgent, reason: ReasonComplaint, weight: 0.85, keyword: "pest"},

		// Notice: worth flagging, still automatable.
		{regex: regexp.MustCompile(`(?i)\b(broken?|damaged?|not\s+working|doesn'?t\s+work|stopped\s+working)\b`), severity: SeverityNotice, reason: ReasonDamage, weight: 0.6, keyword: "broken item"},
		{regex: regexp.MustCompile(`(?i)\b(dirty|filthy|disgusting|unclean|hasn'?t\s+been\s+cleaned)\b`), severity: SeverityNotice, reason: ReasonComplaint, weight: 0.6, keyword: "cleanliness"},
		{regex: regexp.MustCompile(`(?i)\b(disappointed|unacceptable|terrible|worst|awful)\b`), severity: SeverityNotice, reason: ReasonComplaint, weight: 0.55, keyword: "dissatisfaction"},
	}

	return &EscalationClassifier{
		rules:     rules,
		scorer:    scorer,
		threshold: threshold,
		logger:    logger,
	}
}

// Classify scores an inbound message. Rule matches dominate; ties between
// matched rules resolve to the highest severity. Sentiment is advisory and
// only raises a ruleless message to notice.
func (c *EscalationClassifier) Classify(ctx context.Context, msg GuestMessage, convCtx *ConversationContext) EscalationSignal {
	ctx, span := escalationTracer.Start(ctx, "escalation.classify")
	defer span.End()

	text := strings.TrimSpace(msg.RawText)
	signal := EscalationSignal{Severity: SeverityNone}
	if text == "" {
		return signal
	}

	reasons := make(map[ReasonCode]struct{})
	var matchedKeyword string
	for _, rule := range c.rules {
		if !rule.regex.MatchString(text) {
			continue
		}
		switch {
		case rule.severity > signal.Severity:
			signal.Severity = rule.severity
			signal.Confidence = rule.weight
			matchedKeyword = rule.keyword
		case rule.severity == signal.Severity && rule.weight > signal.Confidence:
			signal.Confidence = rule.weight
			matchedKeyword = rule.keyword
		}
		reasons[rule.reason] = struct{}{}
	}

	// Prior escalation flags keep long-running problem conversations visible
	// even when the current message is calm.
	if signal.Severity == SeverityNone && convCtx.Flagged() {
		signal.Severity = SeverityNotice
		signal.Confidence = 0.5
		for r := range convCtx.EscalationFlags {
			reasons[r] = struct{}{}
		}
	}

	if signal.Severity == SeverityNone && c.scorer != nil {
		score, err := c.scorer.Score(ctx, text)
		if err != nil {
			c.logger.Debug("sentiment scorer unavailable", "error", err)
		} else if score >= c.threshold {
			signal.Severity = SeverityNotice
			signal.Confidence = score
			reasons[ReasonSentiment] = struct{}{}
		}
	}

	signal.Reasons = sortedReasons(reasons)

	span.SetAttributes(
		attribute.String("escalation.severity", signal.Severity.String()),
		attribute.Float64("escalation.confidence", signal.Confidence),
		attribute.Int("escalation.reasons", len(signal.Reasons)),
	)
	if signal.Severity >= SeverityUrgent {
		c.logger.Info("escalation rule matched",
			"conversation_id", msg.ConversationID,
			"severity", signal.Severity.String(),
			"keyword", matchedKeyword,
			"confidence", signal.Confidence,
		)
	}
	return signal
}

func sortedReasons(set map[ReasonCode]struct{}) []ReasonCode {
	if len(set) == 0 {
		return nil
	}
	out := make([]ReasonCode, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

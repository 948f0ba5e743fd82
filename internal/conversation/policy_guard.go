package conversation

import (
	"fmt"
	"regexp"

	"github.com/stayware/cohost-platform/pkg/logging"
)

// PolicyViolationError reports outbound text that makes a commitment the
// brand voice forbids. The reply is never sent; the conversation escalates
// instead.
type PolicyViolationError struct {
	Pattern string
	Excerpt string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("conversation: policy violation, matched %q near %q", e.Pattern, e.Excerpt)
}

// PolicyGuard screens every outbound reply, templated or generated, against
// the brand voice's forbidden commitments. The guard runs last in the
// composition pipeline so nothing bypasses it.
type PolicyGuard struct {
	patterns []*regexp.Regexp
	raw      []string
	logger   *logging.Logger
}

// NewPolicyGuard compiles the voice's forbidden commitment patterns. Panics
// on an invalid pattern; BrandVoiceConfig.Validate catches this earlier in a
// correctly wired startup.
func NewPolicyGuard(voice BrandVoiceConfig, logger *logging.Logger) *PolicyGuard {
	if logger == nil {
		logger = logging.Default()
	}
	patterns := make([]*regexp.Regexp, 0, len(voice.ForbiddenCommitments))
	for _, p := range voice.ForbiddenCommitments {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	return &PolicyGuard{patterns: patterns, raw: voice.ForbiddenCommitments, logger: logger}
}

// Check returns a PolicyViolationError when the text contains a forbidden
// commitment, nil otherwise.
func (g *PolicyGuard) Check(text string) error {
	for i, p := range g.patterns {
		loc := p.FindStringIndex(text)
		if loc == nil {
			continue
		}
		start := loc[0] - 20
		if start < 0 {
			start = 0
		}
		end := loc[1] + 20
		if end > len(text) {
			end = len(text)
		}
		g.logger.Warn("outbound reply blocked by policy guard", "pattern", g.raw[i])
		return &PolicyViolationError{Pattern: g.raw[i], Excerpt: text[start:end]}
	}
	return nil
}

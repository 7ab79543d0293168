package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Builtin guardrail names accepted in agent configuration.
const (
	GuardrailLengthLimit     = "length-limit"
	GuardrailBlockedTerms    = "blocked-terms"
	GuardrailPromptInjection = "prompt-injection"
	GuardrailPIIMasking      = "pii-masking"
)

const (
	defaultInputLengthLimit  = 8000
	defaultOutputLengthLimit = 16000
)

func lengthLimitGuardrail(limit int) Guardrail {
	return Guardrail{
		Name: GuardrailLengthLimit,
		Check: func(ctx context.Context, text string) (string, error) {
			if len(text) > limit {
				return "", fmt.Errorf("%w: text exceeds %d characters", ErrViolation, limit)
			}
			return text, nil
		},
	}
}

// blockedTermsGuardrail rejects text containing any configured term. Terms
// come from the guardrail's custom instructions, one per comma or newline.
func blockedTermsGuardrail(instructions string) Guardrail {
	var terms []string
	for _, raw := range strings.FieldsFunc(instructions, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		if term := strings.ToLower(strings.TrimSpace(raw)); term != "" {
			terms = append(terms, term)
		}
	}

	return Guardrail{
		Name: GuardrailBlockedTerms,
		Check: func(ctx context.Context, text string) (string, error) {
			lowered := strings.ToLower(text)
			for _, term := range terms {
				if strings.Contains(lowered, term) {
					return "", fmt.Errorf("%w: blocked term %q", ErrViolation, term)
				}
			}
			return text, nil
		},
	}
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts)`),
	regexp.MustCompile(`(?i)disregard\s+(your|the)\s+(system\s+)?(prompt|instructions)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s*mode`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+system\s+prompt`),
}

func promptInjectionGuardrail() Guardrail {
	return Guardrail{
		Name: GuardrailPromptInjection,
		Check: func(ctx context.Context, text string) (string, error) {
			for _, pattern := range injectionPatterns {
				if pattern.MatchString(text) {
					return "", fmt.Errorf("%w: prompt injection pattern detected", ErrViolation)
				}
			}
			return text, nil
		},
	}
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-()]{8,}\d`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)
)

// piiMaskingGuardrail rewrites rather than rejects: emails, phone numbers
// and card-like digit runs are replaced with placeholders.
func piiMaskingGuardrail() Guardrail {
	return Guardrail{
		Name: GuardrailPIIMasking,
		Check: func(ctx context.Context, text string) (string, error) {
			masked := emailPattern.ReplaceAllString(text, "[email]")
			masked = cardPattern.ReplaceAllString(masked, "[card]")
			masked = phonePattern.ReplaceAllString(masked, "[phone]")
			return masked, nil
		},
	}
}

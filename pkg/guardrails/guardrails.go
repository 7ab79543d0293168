// Package guardrails assembles input and output validation pipelines from
// declarative guardrail names. A guardrail either passes text through
// (possibly transformed), or rejects it with a violation.
package guardrails

import (
	"context"
	"errors"
	"fmt"
)

// ErrViolation is returned when text fails a guardrail check. The wrapping
// error names the guardrail and the reason.
var ErrViolation = errors.New("guardrail violation")

// CheckFunc validates one piece of text. It returns the text (transformed
// when the guardrail rewrites content, e.g. masking) or a violation error.
type CheckFunc func(ctx context.Context, text string) (string, error)

// Guardrail is one named validation step.
type Guardrail struct {
	Name  string
	Check CheckFunc
}

// Pipeline is an ordered sequence of guardrails. The zero value is a valid
// empty pipeline that passes everything through.
type Pipeline []Guardrail

// Run applies every guardrail in order, threading transformed text
// through. The first violation aborts the pipeline.
func (p Pipeline) Run(ctx context.Context, text string) (string, error) {
	current := text
	for _, g := range p {
		next, err := g.Check(ctx, current)
		if err != nil {
			return "", fmt.Errorf("%s: %w", g.Name, err)
		}
		current = next
	}
	return current, nil
}

// Options tunes guardrail construction.
type Options struct {
	// Thresholds carries per-guardrail numeric tuning, keyed by guardrail
	// name (e.g. length caps)
	Thresholds map[string]float64
	// CustomInstructions carries free-form guardrail configuration, e.g.
	// the blocked-terms list
	CustomInstructions string
}

func (o Options) threshold(name string, fallback float64) float64 {
	if v, ok := o.Thresholds[name]; ok && v > 0 {
		return v
	}
	return fallback
}

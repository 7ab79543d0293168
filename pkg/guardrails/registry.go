package guardrails

import (
	"github.com/rs/zerolog/log"
)

// Registry builds guardrail pipelines from declarative names. Unknown
// names are skipped with a warning; an empty name list yields an empty
// pipeline, never an error.
type Registry struct{}

// NewRegistry creates a guardrail registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// InputGuardrails builds the pipeline applied to user input before it
// reaches the model.
func (r *Registry) InputGuardrails(names []string, opts Options) Pipeline {
	return r.build(names, opts, true)
}

// OutputGuardrails builds the pipeline applied to assistant output before
// it reaches the user.
func (r *Registry) OutputGuardrails(names []string, opts Options) Pipeline {
	return r.build(names, opts, false)
}

func (r *Registry) build(names []string, opts Options, input bool) Pipeline {
	var pipeline Pipeline
	for _, name := range names {
		switch name {
		case GuardrailLengthLimit:
			fallback := float64(defaultOutputLengthLimit)
			if input {
				fallback = defaultInputLengthLimit
			}
			pipeline = append(pipeline, lengthLimitGuardrail(int(opts.threshold(name, fallback))))
		case GuardrailBlockedTerms:
			pipeline = append(pipeline, blockedTermsGuardrail(opts.CustomInstructions))
		case GuardrailPromptInjection:
			pipeline = append(pipeline, promptInjectionGuardrail())
		case GuardrailPIIMasking:
			pipeline = append(pipeline, piiMaskingGuardrail())
		default:
			log.Warn().
				Str("guardrail", name).
				Msg("Skipping unknown guardrail")
		}
	}
	return pipeline
}

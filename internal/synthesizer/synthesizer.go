package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"blockforge/internal/llm"
	"blockforge/internal/models"
	"blockforge/internal/prompt"
	"blockforge/internal/schema"
	"blockforge/internal/template"
)

// DefaultMaxAttempts bounds the draft/repair loop. The first attempt
// drafts; the remainder repair.
const DefaultMaxAttempts = 3

// CapabilityCatalog is the synthesizer's view of the available
// capabilities: what to advertise in prompts and what names are legal in
// generated blocks.
type CapabilityCatalog interface {
	Summaries() []prompt.CapabilitySummary
	Has(name string) bool
}

// Verifier optionally dry-runs a validated block before it is marked
// ready. The sandbox implements it with stub capability clients.
type Verifier interface {
	DryRun(ctx context.Context, block *models.Block) error
}

// Synthesizer turns natural-language requests into validated blocks via a
// bounded draft/validate/repair loop against an LLM.
type Synthesizer struct {
	client      llm.Client
	catalog     CapabilityCatalog
	verifier    Verifier
	maxAttempts int
}

// New creates a synthesizer. maxAttempts <= 0 selects the default.
func New(client llm.Client, catalog CapabilityCatalog, maxAttempts int) *Synthesizer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Synthesizer{
		client:      client,
		catalog:     catalog,
		maxAttempts: maxAttempts,
	}
}

// SetVerifier enables pre-acceptance dry runs.
func (s *Synthesizer) SetVerifier(v Verifier) { s.verifier = v }

// draft is the wire shape the model is asked to produce.
type draft struct {
	Description  string        `json:"description"`
	InputSchema  schema.Schema `json:"input_schema"`
	OutputSchema schema.Schema `json:"output_schema"`
	Capabilities []string      `json:"capabilities"`
	Source       models.Source `json:"source"`
}

// Generate runs the full loop for one request. hints optionally steers
// capability choice. On success the returned block is ready,
// content-addressed, and safe to persist. On failure the error is a
// *GenerationError carrying every attempt; prompt.Build errors (invalid
// request) and fatal gateway errors pass through directly.
func (s *Synthesizer) Generate(ctx context.Context, request string, hints []string) (*models.Block, []models.GenerationAttempt, error) {
	system, user, err := prompt.Build(request, s.catalog.Summaries(), hints)
	if err != nil {
		return nil, nil, err
	}

	phase := PhaseDrafting
	var attempts []models.GenerationAttempt

	log.Printf("🧩 [SYNTH] Generating block for request (%d chars), max %d attempts", len(request), s.maxAttempts)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		raw, err := s.client.Complete(ctx, system, user)
		if err != nil {
			phase = transition(phase, PhaseFailed)
			return nil, attempts, &GenerationError{Request: request, Attempts: attempts, Cause: err}
		}

		record := models.GenerationAttempt{
			Attempt:       attempt,
			Prompt:        user,
			RawCompletion: raw,
			Timestamp:     time.Now().UTC(),
		}

		phase = transition(phase, PhaseValidating)

		block, problems := s.assemble(raw)
		if len(problems) == 0 {
			if s.verifier != nil {
				if err := s.verifier.DryRun(ctx, block); err != nil {
					problems = []string{fmt.Sprintf("dry run failed: %v", err)}
				}
			}
		}

		if len(problems) == 0 {
			record.Outcome = models.AttemptAccepted
			attempts = append(attempts, record)
			phase = transition(phase, PhaseReady)
			log.Printf("✅ [SYNTH] Block accepted on attempt %d: %s", attempt, block.ID)
			return block, attempts, nil
		}

		if block == nil {
			record.Outcome = models.AttemptParseFailed
		} else {
			record.Outcome = models.AttemptValidationFailed
		}
		record.Errors = problems
		attempts = append(attempts, record)

		log.Printf("⚠️ [SYNTH] Attempt %d rejected (%d problem(s))", attempt, len(problems))

		if attempt == s.maxAttempts {
			break
		}

		phase = transition(phase, PhaseRepairing)
		user = prompt.BuildRepair(request, raw, accumulatedProblems(attempts))
	}

	phase = transition(phase, PhaseFailed)
	last := attempts[len(attempts)-1]
	return nil, attempts, &GenerationError{
		Request:  request,
		Attempts: attempts,
		Cause:    &ValidationError{Problems: last.Errors},
	}
}

// accumulatedProblems flattens every rejected attempt's problems so repair
// prompts show the full history, prefixed by attempt number.
func accumulatedProblems(attempts []models.GenerationAttempt) []string {
	var problems []string
	for _, a := range attempts {
		for _, p := range a.Errors {
			problems = append(problems, fmt.Sprintf("attempt %d: %s", a.Attempt, p))
		}
	}
	return problems
}

// assemble parses and validates a completion. A nil block with problems
// means the completion did not parse; a non-nil block with problems means
// it parsed but violated the contract.
func (s *Synthesizer) assemble(raw string) (*models.Block, []string) {
	jsonContent := prompt.ExtractJSON(raw)

	var d draft
	if err := json.Unmarshal([]byte(jsonContent), &d); err != nil {
		perr := &ParseError{Raw: raw, Cause: err}
		return nil, []string{perr.Error()}
	}

	problems := s.validateDraft(&d)

	now := time.Now().UTC()
	block := &models.Block{
		SchemaVersion: models.SchemaVersion,
		Description:   strings.TrimSpace(d.Description),
		InputSchema:   d.InputSchema,
		OutputSchema:  d.OutputSchema,
		Capabilities:  d.Capabilities,
		Source:        d.Source,
		Status:        models.BlockStatusReady,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	block.ID = block.ContentHash()

	if len(problems) > 0 {
		block.Status = models.BlockStatusFailed
		return block, problems
	}
	return block, nil
}

var saveAsRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateDraft checks the full block contract and returns every
// violation. The list feeds repair prompts verbatim.
func (s *Synthesizer) validateDraft(d *draft) []string {
	var problems []string

	if strings.TrimSpace(d.Description) == "" {
		problems = append(problems, "description is empty")
	}

	for _, err := range d.InputSchema.Validate() {
		problems = append(problems, fmt.Sprintf("input_schema: %v", err))
	}
	for _, err := range d.OutputSchema.Validate() {
		problems = append(problems, fmt.Sprintf("output_schema: %v", err))
	}
	for _, f := range d.OutputSchema.Fields {
		if f.Default != nil {
			problems = append(problems, fmt.Sprintf("output_schema field %q: output fields must not declare defaults", f.Name))
		}
	}

	declared := make(map[string]bool, len(d.Capabilities))
	for _, name := range d.Capabilities {
		if declared[name] {
			problems = append(problems, fmt.Sprintf("capability %q declared more than once", name))
		}
		declared[name] = true
		if !s.catalog.Has(name) {
			problems = append(problems, fmt.Sprintf("capability %q does not exist", name))
		}
	}

	if len(d.Source.Steps) == 0 {
		problems = append(problems, "source has no steps")
	}

	used := make(map[string]bool)
	saved := make(map[string]bool)
	for i, step := range d.Source.Steps {
		if step.Capability == "" {
			problems = append(problems, fmt.Sprintf("step %d: missing capability", i))
		} else {
			used[step.Capability] = true
			if !declared[step.Capability] {
				problems = append(problems, fmt.Sprintf("step %d: capability %q not declared in capabilities", i, step.Capability))
			}
		}

		if step.SaveAs == "" {
			problems = append(problems, fmt.Sprintf("step %d: missing save_as", i))
		} else if !saveAsRe.MatchString(step.SaveAs) {
			problems = append(problems, fmt.Sprintf("step %d: invalid save_as %q", i, step.SaveAs))
		} else if saved[step.SaveAs] {
			problems = append(problems, fmt.Sprintf("step %d: duplicate save_as %q", i, step.SaveAs))
		}

		for _, ref := range template.RefsInValue(step.Args) {
			if p := s.checkRef(ref, d, saved); p != "" {
				problems = append(problems, fmt.Sprintf("step %d: %s", i, p))
			}
		}

		if step.SaveAs != "" {
			saved[step.SaveAs] = true
		}
	}

	for name := range declared {
		if !used[name] {
			problems = append(problems, fmt.Sprintf("capability %q declared but never used", name))
		}
	}

	// Outputs must cover the output schema exactly.
	for _, f := range d.OutputSchema.Fields {
		if _, ok := d.Source.Outputs[f.Name]; !ok {
			problems = append(problems, fmt.Sprintf("outputs: missing mapping for output field %q", f.Name))
		}
	}
	for name, tmpl := range d.Source.Outputs {
		if _, ok := d.OutputSchema.Get(name); !ok {
			problems = append(problems, fmt.Sprintf("outputs: %q is not an output_schema field", name))
		}
		for _, ref := range template.Refs(tmpl) {
			if p := s.checkRef(ref, d, saved); p != "" {
				problems = append(problems, fmt.Sprintf("outputs[%s]: %s", name, p))
			}
		}
	}

	return problems
}

// checkRef validates a single template reference against declared inputs
// and the step results saved so far.
func (s *Synthesizer) checkRef(ref string, d *draft, saved map[string]bool) string {
	parts := strings.SplitN(ref, ".", 3)
	switch parts[0] {
	case "inputs":
		if len(parts) < 2 {
			return fmt.Sprintf("reference %q: missing input field", ref)
		}
		field := stripIndex(parts[1])
		if _, ok := d.InputSchema.Get(field); !ok {
			return fmt.Sprintf("reference %q: input field %q not declared", ref, field)
		}
	case "steps":
		if len(parts) < 3 {
			return fmt.Sprintf("reference %q: expected steps.<save_as>.<field>", ref)
		}
		name := stripIndex(parts[1])
		if !saved[name] {
			return fmt.Sprintf("reference %q: no earlier step saved as %q", ref, name)
		}
	default:
		return fmt.Sprintf("reference %q: unknown namespace %q", ref, parts[0])
	}
	return ""
}

func stripIndex(s string) string {
	if idx := strings.Index(s, "["); idx != -1 {
		return s[:idx]
	}
	return s
}

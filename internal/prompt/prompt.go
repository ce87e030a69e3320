package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRequest is returned when a natural-language request cannot be
// turned into a prompt at all (empty, whitespace, or over the length cap).
var ErrInvalidRequest = errors.New("invalid generation request")

// MaxRequestLength caps user requests before they reach the model.
const MaxRequestLength = 4000

// CapabilitySummary is the slice of a capability spec that the generator
// needs to see: the name it must reference and what it does.
type CapabilitySummary struct {
	Name        string
	Description string
}

// SystemPromptBase is the system prompt for block generation. The
// {{CAPABILITIES_SECTION}} placeholder is filled with the capabilities
// available at generation time.
const SystemPromptBase = `You are a block generator. Your ONLY job is to output valid JSON block definitions.

CRITICAL: You must ONLY respond with a JSON object. No explanations, no markdown, no code blocks - JUST the JSON.

=== BLOCK STRUCTURE ===
{
  "description": "One sentence describing what the block does",
  "input_schema": { "fields": [ { "name": "...", "type": "...", "required": true, "default": null, "description": "..." } ] },
  "output_schema": { "fields": [ { "name": "...", "type": "...", "required": true } ] },
  "capabilities": ["capability_name"],
  "source": {
    "steps": [
      { "capability": "capability_name", "args": { "param": "{{inputs.field}}" }, "save_as": "result" }
    ],
    "outputs": { "output_field": "{{steps.result.some_field}}" }
  }
}

=== SEMANTIC TYPES ===
Field types are EXACTLY one of: "text", "number", "boolean", "object", "list".
There is no coercion between types. Use "text" for strings, never "string".

=== TEMPLATE SYNTAX ===
- {{inputs.name}} references an input field
- {{steps.save_as.field}} references a field of an earlier step's result
- Steps run in order; a step may only reference results saved by earlier steps

=== RULES ===
1. Every capability used in source.steps MUST appear in the "capabilities" array
2. Only use capabilities from the AVAILABLE CAPABILITIES section below
3. Every output_schema field MUST have an entry in source.outputs
4. Input field names must be unique; same for output fields
5. Keep input schemas minimal: only what the block genuinely needs

=== AVAILABLE CAPABILITIES ===
{{CAPABILITIES_SECTION}}

=== EXAMPLES ===

Request: "Send a message to a Discord channel"
{
  "description": "Sends a text message to a Discord channel via webhook",
  "input_schema": { "fields": [ { "name": "message", "type": "text", "required": true, "description": "Message body to post" } ] },
  "output_schema": { "fields": [ { "name": "status", "type": "text", "required": true } ] },
  "capabilities": ["discord_send"],
  "source": {
    "steps": [
      { "capability": "discord_send", "args": { "content": "{{inputs.message}}" }, "save_as": "send" }
    ],
    "outputs": { "status": "{{steps.send.status}}" }
  }
}

Request: "Fetch a URL and return the response body"
{
  "description": "Performs an HTTP GET against a URL and returns the body and status code",
  "input_schema": { "fields": [ { "name": "url", "type": "text", "required": true } ] },
  "output_schema": { "fields": [ { "name": "body", "type": "text", "required": true }, { "name": "status_code", "type": "number", "required": true } ] },
  "capabilities": ["http_request"],
  "source": {
    "steps": [
      { "capability": "http_request", "args": { "method": "GET", "url": "{{inputs.url}}" }, "save_as": "resp" }
    ],
    "outputs": { "body": "{{steps.resp.body}}", "status_code": "{{steps.resp.status_code}}" }
  }
}

Remember: output ONLY the JSON object.`

// Build assembles the system and user prompts for a fresh generation.
// hints optionally names capabilities the caller wants the block to favor.
func Build(request string, caps []CapabilitySummary, hints []string) (system string, user string, err error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return "", "", fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if len(request) > MaxRequestLength {
		return "", "", fmt.Errorf("%w: request exceeds %d characters", ErrInvalidRequest, MaxRequestLength)
	}

	system = strings.Replace(SystemPromptBase, "{{CAPABILITIES_SECTION}}", capabilitiesSection(caps), 1)
	user = fmt.Sprintf("CREATE BLOCK\n\nUser request: %s", request)
	if len(hints) > 0 {
		user += fmt.Sprintf("\n\nPrefer these capabilities where they fit: %s", strings.Join(hints, ", "))
	}
	return system, user, nil
}

// BuildRepair assembles the user prompt for a repair turn. The original
// request, the rejected output, and every validation error are included so
// the model sees the full picture rather than a single symptom.
func BuildRepair(request, previousRaw string, problems []string) string {
	var b strings.Builder
	b.WriteString("REPAIR BLOCK\n\n")
	fmt.Fprintf(&b, "User request: %s\n\n", strings.TrimSpace(request))
	b.WriteString("Your previous output:\n")
	b.WriteString(previousRaw)
	b.WriteString("\n\nIt was rejected for the following reasons:\n")
	for _, p := range problems {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\nOutput the complete corrected block JSON. Fix every listed problem.")
	return b.String()
}

func capabilitiesSection(caps []CapabilitySummary) string {
	if len(caps) == 0 {
		return "(none: the block must not declare any capabilities)"
	}
	var b strings.Builder
	for _, c := range caps {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*\\n?```")
	looseJSONRe  = regexp.MustCompile(`(?s)\{.*"source".*\}`)
)

// ExtractJSON pulls a JSON object out of a completion that might be wrapped
// in markdown fences or surrounded by prose.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "{") {
		return content
	}

	if matches := fencedJSONRe.FindStringSubmatch(content); len(matches) > 1 {
		return matches[1]
	}

	if match := looseJSONRe.FindString(content); match != "" {
		return match
	}

	return content
}

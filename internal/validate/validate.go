// Package validate applies the acceptance rules for extraction
// payloads: the payload must satisfy the field contract active at
// extraction time, every populated field must carry at least one
// citation, and every citation must resolve against the schedule's
// stored evidence. A payload that fails any rule is demoted to
// invalid; it is still stored for audit but never becomes current.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ratescan/ratescan/internal/contract"
	"github.com/ratescan/ratescan/internal/schedules"
)

// Finding describes one rule violation, addressed by the dot-path of
// the offending field or citation.
type Finding struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Page    int    `json:"page,omitempty"`
}

// Result is the outcome of checking one payload. Status is
// schedules.ExtractionValid when Findings is empty and
// schedules.ExtractionInvalid otherwise.
type Result struct {
	Status   string
	Findings []Finding
}

// FieldErrors renders the findings for storage alongside the
// extraction, or nil when the payload passed.
func (r Result) FieldErrors() json.RawMessage {
	if len(r.Findings) == 0 {
		return nil
	}
	data, err := json.Marshal(r.Findings)
	if err != nil {
		return nil
	}
	return data
}

// Check validates a parsed payload against the contract schema and
// the citation rules. The payload is checked as a whole: any finding
// demotes the entire extraction, and all findings are collected rather
// than stopping at the first.
func Check(
	c *contract.Compiled,
	payload json.RawMessage,
	evidence *schedules.RateText,
	sched *schedules.Schedule,
) Result {
	var findings []Finding

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return invalid([]Finding{{Field: "$", Problem: "payload is not valid JSON"}})
	}

	if err := c.ValidatePayload(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			flattenSchemaError(verr, &findings)
		} else {
			findings = append(findings, Finding{Field: "$", Problem: "schema: " + err.Error()})
		}
	}

	var p schedules.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		findings = append(findings, Finding{Field: "$", Problem: "payload does not match the contract shape"})
		return invalid(findings)
	}

	for i, item := range p.Schedules {
		base := fmt.Sprintf("schedules[%d]", i)
		findings = append(findings, checkItem(base, item, evidence, sched)...)
	}

	if len(findings) > 0 {
		return invalid(findings)
	}
	return Result{Status: schedules.ExtractionValid}
}

func invalid(findings []Finding) Result {
	return Result{Status: schedules.ExtractionInvalid, Findings: findings}
}

// checkItem validates one extracted schedule: its citations must
// resolve, and every populated field must be covered by a citation
// that resolved.
func checkItem(
	base string,
	item schedules.ExtractedSchedule,
	evidence *schedules.RateText,
	sched *schedules.Schedule,
) []Finding {
	var findings []Finding

	resolved := make([]bool, len(item.Citations))
	for k, cit := range item.Citations {
		ref := fmt.Sprintf("%s.citations[%d]", base, k)

		if cit.Page < sched.PageStart || cit.Page > sched.PageEnd {
			findings = append(findings, Finding{
				Field:   ref,
				Problem: "cited page outside schedule bounds",
				Page:    cit.Page,
			})
			continue
		}

		pageText, ok := evidence.PageText(cit.Page)
		if !ok {
			findings = append(findings, Finding{
				Field:   ref,
				Problem: "cited page has no evidence text",
				Page:    cit.Page,
			})
			continue
		}

		if !snippetResolves(pageText, cit.Snippet) {
			findings = append(findings, Finding{
				Field:   ref,
				Problem: "snippet not found on cited page",
				Page:    cit.Page,
			})
			continue
		}

		resolved[k] = true
	}

	for _, fv := range itemFields(item) {
		if !fv.populated {
			continue
		}

		covered := false
		hasResolvable := false
		for k, cit := range item.Citations {
			if !cit.Covers(fv.path, leafOf(fv.path)) {
				continue
			}
			covered = true
			if resolved[k] {
				hasResolvable = true
				break
			}
		}

		switch {
		case !covered:
			findings = append(findings, Finding{
				Field:   base + "." + fv.path,
				Problem: "populated field has no citation",
			})
		case !hasResolvable:
			findings = append(findings, Finding{
				Field:   base + "." + fv.path,
				Problem: "no citation for this field resolves",
			})
		}
	}

	return findings
}

// snippetResolves reports whether the snippet appears in the page
// text, either verbatim or after collapsing whitespace on both sides.
func snippetResolves(pageText, snippet string) bool {
	if snippet == "" {
		return false
	}
	if strings.Contains(pageText, snippet) {
		return true
	}
	return strings.Contains(normalizeWS(pageText), normalizeWS(snippet))
}

func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type fieldValue struct {
	path      string
	populated bool
}

// itemFields enumerates the citable leaf fields of one extracted
// schedule with their dot-paths. Empty strings count as unpopulated;
// the model is told to use null when unsure, but an empty string
// carries no value worth citing either.
func itemFields(item schedules.ExtractedSchedule) []fieldValue {
	fields := []fieldValue{
		{"schedule_name", item.ScheduleName != ""},
		{"schedule_code", strSet(item.ScheduleCode)},
		{"effective_date", strSet(item.EffectiveDate)},
		{"customer_class", strSet(item.CustomerClass)},
		{"eligibility.summary", item.Eligibility.Summary != ""},
		{"eligibility.rules.demand_kw_max", item.Eligibility.Rules.DemandKWMax != nil},
		{"eligibility.rules.service_voltage", strSet(item.Eligibility.Rules.ServiceVoltage)},
		{"eligibility.rules.geography", strSet(item.Eligibility.Rules.Geography)},
		{"eligibility.rules.metering", strSet(item.Eligibility.Rules.Metering)},
		{"eligibility.exclusions", strSet(item.Eligibility.Exclusions)},
	}

	for i, ch := range item.Charges {
		prefix := fmt.Sprintf("charges[%d]", i)
		fields = append(fields,
			fieldValue{prefix + ".type", ch.Type != ""},
			fieldValue{prefix + ".value", ch.Value != nil},
			fieldValue{prefix + ".unit", strSet(ch.Unit)},
			fieldValue{prefix + ".structure", strSet(ch.Structure)},
			fieldValue{prefix + ".tiers", rawSet(ch.Tiers)},
			fieldValue{prefix + ".notes", strSet(ch.Notes)},
		)
	}

	return fields
}

func strSet(s *string) bool {
	return s != nil && *s != ""
}

func rawSet(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

func leafOf(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func flattenSchemaError(err *jsonschema.ValidationError, out *[]Finding) {
	if len(err.Causes) == 0 {
		*out = append(*out, Finding{
			Field:   pointerToPath(err.InstanceLocation),
			Problem: "schema: " + err.Message,
		})
		return
	}
	for _, cause := range err.Causes {
		flattenSchemaError(cause, out)
	}
}

// pointerToPath converts a JSON pointer like /schedules/0/charges/1/value
// into the dot-path convention citations use.
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return "$"
	}

	var b strings.Builder
	for _, seg := range strings.Split(ptr, "/") {
		if isDigits(seg) {
			fmt.Fprintf(&b, "[%s]", seg)
			continue
		}
		if b.Len() > 0 {
			b.WriteString(".")
		}
		b.WriteString(seg)
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

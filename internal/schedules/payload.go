package schedules

import (
	"encoding/json"
	"strings"
)

// Payload is the canonical structured result of one extraction run.
// A single detected range can contain more than one named schedule, so
// the payload always carries a list.
type Payload struct {
	Schedules []ExtractedSchedule `json:"schedules"`
}

// ExtractedSchedule is one named rate schedule as the model reported
// it. Optional fields are pointers so that null and absent survive the
// round trip; a non-null field must be covered by at least one
// citation to pass validation.
type ExtractedSchedule struct {
	ScheduleName  string      `json:"schedule_name"`
	ScheduleCode  *string     `json:"schedule_code"`
	EffectiveDate *string     `json:"effective_date"`
	CustomerClass *string     `json:"customer_class"`
	Eligibility   Eligibility `json:"eligibility"`
	Charges       []Charge    `json:"charges"`
	Citations     []Citation  `json:"citations"`
}

// Eligibility describes who a schedule applies to.
type Eligibility struct {
	Summary    string           `json:"summary"`
	Rules      EligibilityRules `json:"rules"`
	Exclusions *string          `json:"exclusions"`
}

// EligibilityRules are the machine-usable eligibility constraints.
type EligibilityRules struct {
	DemandKWMax    *float64 `json:"demand_kw_max"`
	ServiceVoltage *string  `json:"service_voltage"`
	Geography      *string  `json:"geography"`
	Metering       *string  `json:"metering"`
}

// Charge is one rate component: a customer, energy, demand, or other
// charge. Tiers carries tiered or time-of-use detail as the model
// structured it; when the model cannot structure it reliably the
// detail lands in Notes instead.
type Charge struct {
	Type      string          `json:"type"`
	Value     *float64        `json:"value"`
	Unit      *string         `json:"unit"`
	Structure *string         `json:"structure"`
	Tiers     json.RawMessage `json:"tiers,omitempty"`
	Notes     *string         `json:"notes"`
}

// Citation binds one extracted field to the evidence that supports it:
// a 1-based page number from the excerpt markers and a verbatim
// snippet from that page. Field is a name or dot-path such as
// "schedule_name", "eligibility.summary", or "charges[0].value".
type Citation struct {
	Field   string `json:"field"`
	Page    int    `json:"page"`
	Snippet string `json:"snippet"`
}

// Covers reports whether this citation's field reference applies to
// the given dot-path. A citation can name the full path, the bare
// leaf field, or a parent path.
func (c Citation) Covers(path, leaf string) bool {
	return c.Field == path ||
		c.Field == leaf ||
		strings.HasPrefix(path, c.Field+".") ||
		strings.HasPrefix(path, c.Field+"[")
}

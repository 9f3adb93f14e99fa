package dossier

import (
	"github.com/interop/pamgw/internal/platform/hl7"
)

// State is what the transition check runs against: the file's current state
// (empty for a file with no movements) and the operational status of its
// latest visit.
type State struct {
	Current     string
	VisitStatus string
}

// rule is one row of the PAM FR trigger table. A nil prior set accepts any
// prior state; an empty class set accepts any patient class.
type rule struct {
	prior      []string
	classes    []string
	zbe        bool   // ZBE segment mandatory
	zbeAction  string // required ZBE-4 value when non-empty
	classError bool   // class mismatch reports InvalidClassChange
}

// Terminal states for A08: a discharged or cancelled file takes no update.
var terminalStates = map[string]bool{"A03": true, "A11": true}

var transitions = map[string]rule{
	"A01": {prior: []string{"", "A03", "A11"}, classes: []string{"I", "R"}, zbe: true, zbeAction: hl7.ActionInsert},
	"A02": {prior: []string{"A01", "A02", "A06", "A07", "A22"}, classes: []string{"I", "R"}, zbe: true},
	"A03": {prior: []string{"A01", "A02", "A06", "A07", "A22"}, classes: []string{"I", "R"}, zbe: true},
	"A04": {prior: []string{"", "A03", "A05"}, classes: []string{"O", "E"}, zbe: true},
	"A05": {prior: []string{"", "A03"}, zbe: true},
	"A06": {prior: []string{"A04"}, classes: []string{"I", "R"}, zbe: true, zbeAction: hl7.ActionInsert, classError: true},
	"A07": {prior: []string{"A01"}, classes: []string{"O"}, zbe: true, zbeAction: hl7.ActionInsert, classError: true},
	"A08": {zbe: true},
	"A11": {prior: []string{"A01"}, zbe: true, zbeAction: hl7.ActionCancel},
	"A12": {prior: []string{"A02"}, zbe: true, zbeAction: hl7.ActionCancel},
	"A13": {prior: []string{"A03"}, zbe: true, zbeAction: hl7.ActionCancel},
	"A21": {prior: []string{"A01", "A02"}, classes: []string{"I", "R"}, zbe: true},
	"A22": {prior: []string{"A21"}, classes: []string{"I", "R"}, zbe: true},
	"A28": {},
	"A31": {},
	"A40": {},
	"Z99": {},
}

// cancelTargets pairs each cancellation trigger with the trigger it voids.
var cancelTargets = map[string]string{
	"A11": "A01",
	"A12": "A02",
	"A13": "A03",
}

// CancelTarget returns the trigger a cancellation voids, if trigger is one.
func CancelTarget(trigger string) (string, bool) {
	t, ok := cancelTargets[trigger]
	return t, ok
}

// RequiresZBE reports whether generated messages for the trigger must carry
// a movement segment.
func RequiresZBE(trigger string) bool {
	r, ok := transitions[trigger]
	return ok && r.zbe
}

// IdentityOnly reports whether the trigger touches the patient identity
// without opening an encounter phase.
func IdentityOnly(trigger string) bool {
	return trigger == "A28" || trigger == "A31" || trigger == "A40"
}

func renderState(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

// Validate checks an incoming trigger against the file state under the PAM FR
// profile. strict globally disables A08.
func Validate(st State, trigger, class string, zbe hl7.ZBERecord, strict bool) error {
	r, ok := transitions[trigger]
	if !ok {
		return hl7.SemanticErr(hl7.CodeUnsupportedTrigger,
			"trigger not part of the PAM FR profile", "trigger", trigger)
	}

	if trigger == "A08" {
		if strict {
			return hl7.SemanticErr(hl7.CodeStrictModeBlocked,
				"A08 désactivé en mode strict PAM FR")
		}
		if terminalStates[st.Current] {
			return invalidTransition(st.Current, trigger)
		}
	}

	if r.prior != nil && !contains(r.prior, st.Current) {
		return invalidTransition(st.Current, trigger)
	}

	if len(r.classes) > 0 && class != "" && !contains(r.classes, class) {
		if r.classError {
			return hl7.SemanticErr(hl7.CodeInvalidClassChange,
				"patient class incompatible with trigger",
				"trigger", trigger, "class", class)
		}
		return invalidTransition(st.Current, trigger)
	}

	if r.zbe {
		if !zbe.Present {
			return hl7.SemanticErr(hl7.CodeMissingZBE,
				"ZBE segment is mandatory for this trigger", "trigger", trigger)
		}
		if r.zbeAction != "" && zbe.Action != r.zbeAction {
			return invalidTransition(st.Current, trigger)
		}
	}

	// The cancellation nature letter only has meaning inside a Z99
	// correction window.
	if zbe.Present && zbe.Nature == hl7.NatureCancellation {
		if trigger != "Z99" {
			return hl7.SemanticErr(hl7.CodeInvalidCorrectionContext,
				"ZBE-9=C is only valid in a Z99 correction", "trigger", trigger)
		}
		return validateCorrection(zbe.OriginalTrigger, st.VisitStatus)
	}

	return nil
}

// validateCorrection checks the ZBE-9=C window: the corrected trigger must be
// an opening event and the visit must still be open.
func validateCorrection(originalTrigger, visitStatus string) error {
	switch originalTrigger {
	case "A01", "A04", "A05":
	default:
		return hl7.SemanticErr(hl7.CodeInvalidCorrectionContext,
			"correction references a non-opening trigger", "original_trigger", originalTrigger)
	}
	switch visitStatus {
	case VisitPlanned, VisitActive:
	default:
		return hl7.SemanticErr(hl7.CodeInvalidCorrectionContext,
			"correction on a closed visit", "visit_status", visitStatus)
	}
	return nil
}

func invalidTransition(current, trigger string) error {
	return hl7.SemanticErr(hl7.CodeInvalidTransition,
		"Transition IHE invalide: "+renderState(current)+" -> "+trigger,
		"current_state", renderState(current), "trigger", trigger)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

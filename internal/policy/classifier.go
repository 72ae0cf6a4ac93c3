package policy

import "github.com/eliteGoblin/focusd/svcgate/internal/domain"

// Reasons are logged verbatim, so they are part of the audit format.
const (
	ReasonExceptionDisabled  = "Disabled (Exception → warn & skip)"
	ReasonExceptionAutomatic = "Automatic & in Exceptions (confirm)"
	ReasonException          = "In Exceptions (confirm)"
	ReasonNotPrefixed        = "Not prefixed (skip)"
	ReasonManual             = "Manual (eligible)"
	ReasonDisabled           = "Disabled (skip)"
	ReasonAutomatic          = "Automatic (skip unless Exception)"
	ReasonUnknownMode        = "Unknown StartMode (skip)"
)

// Classify maps a service to its eligibility decision. It is total and has no side effects.
//
// Exceptions are confirmed rather than skipped when Automatic; Disabled is the only mode
// that overrides exception status.
func Classify(serviceName, prefix string, isException bool, mode domain.StartupMode) domain.EligibilityDecision {
	if isException {
		switch mode {
		case domain.StartupDisabled:
			return domain.EligibilityDecision{Eligible: false, RequiresConfirmation: true, Reason: ReasonExceptionDisabled}
		case domain.StartupAutomatic:
			return domain.EligibilityDecision{Eligible: true, RequiresConfirmation: true, Reason: ReasonExceptionAutomatic}
		default:
			return domain.EligibilityDecision{Eligible: true, RequiresConfirmation: true, Reason: ReasonException}
		}
	}

	if !MatchesPrefix(serviceName, prefix) {
		return domain.EligibilityDecision{Reason: ReasonNotPrefixed}
	}

	switch mode {
	case domain.StartupManual:
		return domain.EligibilityDecision{Eligible: true, Reason: ReasonManual}
	case domain.StartupDisabled:
		return domain.EligibilityDecision{Reason: ReasonDisabled}
	case domain.StartupAutomatic:
		return domain.EligibilityDecision{Reason: ReasonAutomatic}
	default:
		return domain.EligibilityDecision{Reason: ReasonUnknownMode}
	}
}

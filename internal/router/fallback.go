package router

import "strings"

// Keyword tables for the offline fallback. Checked in priority order:
// symptoms outrank scheduling, so a patient reporting chest pain while asking
// to rebook still lands in followup.
var (
	symptomKeywords = []string{
		"pain", "fever", "temperature", "dizzy", "dizziness", "nausea",
		"vomit", "bleed", "bleeding", "swelling", "swollen", "rash",
		"chest", "breath", "breathing", "headache", "symptom", "wound",
		"incision", "infection", "glucose", "blood sugar", "numb",
		"faint", "fainted", "passed out", "not feeling well", "feel worse",
		"feeling worse", "hurts",
	}

	schedulingKeywords = []string{
		"appointment", "reschedule", "schedule", "cancel", "booking",
		"book", "slot", "visit", "confirm", "availability", "available",
		"earlier", "later date", "move my",
	}

	medicationKeywords = []string{
		"medication", "medicine", "med", "meds", "dose", "dosage", "pill",
		"tablet", "prescription", "refill", "side effect", "interaction",
		"missed my", "forgot to take", "took twice", "double dose",
		"metformin", "lisinopril", "albuterol",
	}

	caregiverKeywords = []string{
		"my mother", "my father", "my mom", "my dad", "my wife",
		"my husband", "my son", "my daughter", "my patient", "caregiver",
		"on behalf of", "caring for", "checking on",
	}
)

// classifyByKeywords is the deterministic fallback used when no model is
// reachable. Unmatched messages route to help.
func classifyByKeywords(text string) Intent {
	lower := strings.ToLower(text)

	if containsAny(lower, symptomKeywords) {
		return IntentFollowup
	}
	// Caregiver phrasing before medication: "my mother missed her dose" is a
	// caregiver conversation even though it mentions a dose.
	if containsAny(lower, caregiverKeywords) {
		return IntentCaregiver
	}
	if containsAny(lower, schedulingKeywords) {
		return IntentAppointment
	}
	if containsAny(lower, medicationKeywords) {
		return IntentMedication
	}
	return IntentHelp
}

// containsAny matches each keyword only at the start of a word, so short
// tokens like "med" do not fire inside "immediately". Trailing inflections
// still match: "reschedule" covers "rescheduled".
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		for i := 0; ; {
			j := strings.Index(text[i:], kw)
			if j < 0 {
				break
			}
			at := i + j
			if at == 0 || !isWordByte(text[at-1]) {
				return true
			}
			i = at + 1
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

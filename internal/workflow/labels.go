package workflow

import "sort"

// Label is a workflow flag persisted on the record. The fixed vocabulary
// below is the engine's only private state encoding: presence of a label
// means the corresponding step has been completed.
type Label string

const (
	// LabelNew marks a record whose attachments have not been parsed yet.
	LabelNew Label = "New"
	// LabelProcessed marks a record with parsed documents, awaiting screening.
	LabelProcessed Label = "Processed"
	// LabelPreScreened marks a record the AI screening has been applied to.
	LabelPreScreened Label = "Pre-screened"
	// LabelRejectionEmailSent marks that the rejection notification went out.
	LabelRejectionEmailSent Label = "Rejection-Email-Sent"
	// LabelScreeningInvitationSent marks that the invitation went out.
	LabelScreeningInvitationSent Label = "Screening-Invitation-Sent"
)

// Labels returns the full workflow vocabulary, for callers that need to
// make sure the tracker knows every label before the engine patches with it.
func Labels() []string {
	return []string{
		string(LabelNew),
		string(LabelProcessed),
		string(LabelPreScreened),
		string(LabelRejectionEmailSent),
		string(LabelScreeningInvitationSent),
	}
}

// LabelSet carries every label on a record, including ones outside the
// workflow vocabulary. Foreign labels travel through patches untouched:
// composite updates replace the whole set, so dropping them would erase
// manually applied tags.
type LabelSet map[string]struct{}

func ParseLabels(labels []string) LabelSet {
	set := make(LabelSet, len(labels))
	for _, label := range labels {
		set[label] = struct{}{}
	}
	return set
}

func (s LabelSet) Has(label Label) bool {
	_, ok := s[string(label)]
	return ok
}

// Advance removes the superseded label and adds its successor, returning a
// new set; the receiver is left unchanged.
func (s LabelSet) Advance(remove, add Label) LabelSet {
	next := make(LabelSet, len(s)+1)
	for label := range s {
		if label == string(remove) {
			continue
		}
		next[label] = struct{}{}
	}
	next[string(add)] = struct{}{}
	return next
}

// With returns a new set that also carries the given label.
func (s LabelSet) With(label Label) LabelSet {
	return s.Advance("", label)
}

// Strings returns the set sorted, for deterministic patches and assertions.
func (s LabelSet) Strings() []string {
	labels := make([]string, 0, len(s))
	for label := range s {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

package versioning

// EditOutcome reports the result of a proposal. Rejected proposals carry the
// persisted state so the caller can rebase.
type EditOutcome struct {
	Accepted       bool
	Version        int64
	CurrentVersion int64
	CurrentText    string
}

// resolveEdit decides a proposal against the element's current state. A nil
// baseVersion skips the check and always wins.
func resolveEdit(currentVersion int64, currentText string, proposedText string, baseVersion *int64) EditOutcome {
	if baseVersion != nil && *baseVersion != currentVersion {
		return EditOutcome{
			Accepted:       false,
			CurrentVersion: currentVersion,
			CurrentText:    currentText,
		}
	}
	next := currentVersion + 1
	return EditOutcome{
		Accepted:       true,
		Version:        next,
		CurrentVersion: next,
		CurrentText:    proposedText,
	}
}

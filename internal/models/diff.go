package models

// MemberOutcome is the result for one member of a reconciliation pass.
type MemberOutcome struct {
	MemberID string `json:"memberID"`
	GroupID  string `json:"groupID"`
	Error    string `json:"error,omitempty"`
}

// MemberDiffResult summarises a reconciliation pass. Total counts the members
// that needed a change; Unchanged lists members already in the desired state.
type MemberDiffResult struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    []MemberOutcome `json:"failed"`
	Success   []MemberOutcome `json:"success"`
	Unchanged []MemberOutcome `json:"unchanged"`
}

func NewMemberDiffResult() *MemberDiffResult {
	return &MemberDiffResult{
		Failed:    []MemberOutcome{},
		Success:   []MemberOutcome{},
		Unchanged: []MemberOutcome{},
	}
}

func (r *MemberDiffResult) AddSuccess(groupID, memberID string) {
	r.Total++
	r.Succeeded++
	r.Success = append(r.Success, MemberOutcome{MemberID: memberID, GroupID: groupID})
}

func (r *MemberDiffResult) AddFailure(groupID, memberID string, err error) {
	r.Total++
	r.Failed = append(r.Failed, MemberOutcome{MemberID: memberID, GroupID: groupID, Error: err.Error()})
}

func (r *MemberDiffResult) AddUnchanged(groupID, memberID string) {
	r.Unchanged = append(r.Unchanged, MemberOutcome{MemberID: memberID, GroupID: groupID})
}

// Complete reports whether every member that needed a change got it.
func (r *MemberDiffResult) Complete() bool {
	return len(r.Failed) == 0
}

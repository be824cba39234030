package models

import "github.com/vestfoldfylke/azf-nettsperre/internal/localtime"

// UpdateRecord is one entry of a block's append-only change log, in the shape
// clients submit and the store keeps. Use Changes to act on it.
type UpdateRecord struct {
	StudentsToAdd    []Member         `json:"studentsToAdd" bson:"studentsToAdd"`
	StudentsToRemove []Member         `json:"studentsToRemove" bson:"studentsToRemove"`
	TypeBlockChange  *TypeBlockChange `json:"typeBlockChange,omitempty" bson:"typeBlockChange,omitempty"`
	DateBlockChange  *DateBlockChange `json:"dateBlockChange,omitempty" bson:"dateBlockChange,omitempty"`
}

type TypeBlockChange struct {
	OldType string `json:"oldType" bson:"oldType"`
	NewType string `json:"newType" bson:"newType"`
}

type DateBlockChange struct {
	Start *DateShift `json:"start,omitempty" bson:"start,omitempty"`
	End   *DateShift `json:"end,omitempty" bson:"end,omitempty"`
}

type DateShift struct {
	Old localtime.Time `json:"old" bson:"old"`
	New localtime.Time `json:"new" bson:"new"`
}

// Change is one kind of modification carried by an UpdateRecord. The set of
// implementations is closed: StudentsRemoved, StudentsAdded, TypeChanged and
// DateChanged.
type Change interface {
	change()
}

type StudentsRemoved struct {
	Students []Member
}

type StudentsAdded struct {
	Students []Member
}

type TypeChanged struct {
	OldType string
	NewType string
}

// DateChanged carries a zero Time for a bound that was not changed.
type DateChanged struct {
	NewStart localtime.Time
	NewEnd   localtime.Time
}

func (StudentsRemoved) change() {}
func (StudentsAdded) change()   {}
func (TypeChanged) change()     {}
func (DateChanged) change()     {}

// Changes decomposes the record into the modifications it actually requests,
// in the order they must be applied. Removals come first so a student moved
// out and back in within one record ends up on the block.
func (r UpdateRecord) Changes() []Change {
	var changes []Change
	if len(r.StudentsToRemove) > 0 {
		changes = append(changes, StudentsRemoved{Students: r.StudentsToRemove})
	}
	if len(r.StudentsToAdd) > 0 {
		changes = append(changes, StudentsAdded{Students: r.StudentsToAdd})
	}
	if tc := r.TypeBlockChange; tc != nil && tc.NewType != "" && tc.NewType != tc.OldType {
		changes = append(changes, TypeChanged{OldType: tc.OldType, NewType: tc.NewType})
	}
	if dc := r.DateBlockChange; dc != nil {
		var d DateChanged
		if dc.Start != nil {
			d.NewStart = dc.Start.New
		}
		if dc.End != nil {
			d.NewEnd = dc.End.New
		}
		if !d.NewStart.IsZero() || !d.NewEnd.IsZero() {
			changes = append(changes, d)
		}
	}
	return changes
}

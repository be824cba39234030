package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a Block.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusDeleted Status = "deleted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusDeleted:
		return true
	}
	return false
}

// Live reports whether the lifecycle engine may still transition the block.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusActive
}

// Owner describes the teacher owning a block or the user who created it.
type Owner struct {
	TeacherID         string `json:"teacherId,omitempty" bson:"teacherId,omitempty"`
	DisplayName       string `json:"displayName,omitempty" bson:"displayName,omitempty"`
	UserPrincipalName string `json:"userPrincipalName" bson:"userPrincipalName"`
	OfficeLocation    string `json:"officeLocation,omitempty" bson:"officeLocation,omitempty"`
	CompanyName       string `json:"companyName,omitempty" bson:"companyName,omitempty"`
}

// BlockedGroup is the class or team a block was created for.
type BlockedGroup struct {
	ID          string `json:"id" bson:"id"`
	DisplayName string `json:"displayName" bson:"displayName"`
}

// TypeBlock selects the directory group that enforces the block.
type TypeBlock struct {
	Type    string `json:"type" bson:"type"`
	GroupID string `json:"groupId" bson:"groupId"`
}

// Block is a scheduled, time-bounded restriction applied to a set of students
// through membership of TypeBlock.GroupID. The same struct is stored in the
// active table and, once archived, in the history table. Indexes are created
// per table by the store migration.
type Block struct {
	ID           string                            `gorm:"type:varchar(36);primaryKey" json:"_id" bson:"_id"`
	Students     datatypes.JSONSlice[Member]       `json:"students" bson:"students"`
	Teacher      Owner                             `gorm:"serializer:json;type:text" json:"teacher" bson:"teacher"`
	CreatedBy    Owner                             `gorm:"serializer:json;type:text" json:"createdBy" bson:"createdBy"`
	BlockedGroup BlockedGroup                      `gorm:"serializer:json;type:text" json:"blockedGroup" bson:"blockedGroup"`
	TypeBlock    TypeBlock                         `gorm:"serializer:json;type:text" json:"typeBlock" bson:"typeBlock"`
	StartBlock   localtime.Time                    `gorm:"type:varchar(16)" json:"startBlock" bson:"startBlock"`
	EndBlock     localtime.Time                    `gorm:"type:varchar(16)" json:"endBlock" bson:"endBlock"`
	Status       Status                            `gorm:"size:16;not null" json:"status" bson:"status"`
	Updated      datatypes.JSONSlice[UpdateRecord] `json:"updated" bson:"updated"`
	CreatedAt    time.Time                         `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time                         `json:"updatedAt" bson:"updatedAt"`

	// Columns copied out of the JSON documents so the relational store can
	// filter on them. The document store queries the nested fields directly.
	TeacherUPN       string `gorm:"size:255" json:"-" bson:"-"`
	TeacherOffice    string `gorm:"size:255" json:"-" bson:"-"`
	BlockedGroupName string `gorm:"size:255" json:"-" bson:"-"`
}

func (Block) TableName() string {
	return "blocks"
}

func (b *Block) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func (b *Block) BeforeSave(tx *gorm.DB) error {
	b.TeacherUPN = b.Teacher.UserPrincipalName
	b.TeacherOffice = b.Teacher.OfficeLocation
	b.BlockedGroupName = b.BlockedGroup.DisplayName
	return nil
}

// HasStudent reports whether a student with the given directory id is on the block.
func (b *Block) HasStudent(id string) bool {
	for _, s := range b.Students {
		if s.ID == id {
			return true
		}
	}
	return false
}

// LastUpdate returns the most recently appended change record.
func (b *Block) LastUpdate() (UpdateRecord, bool) {
	if len(b.Updated) == 0 {
		return UpdateRecord{}, false
	}
	return b.Updated[len(b.Updated)-1], true
}

// RemovalSet is every student that may still hold membership because of this
// block: the current roster plus everyone ever listed in studentsToRemove.
func (b *Block) RemovalSet() []Member {
	all := make([]Member, 0, len(b.Students))
	all = append(all, b.Students...)
	for _, u := range b.Updated {
		all = append(all, u.StudentsToRemove...)
	}
	return DedupeByIdentity(all)
}

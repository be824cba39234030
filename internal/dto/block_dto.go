package dto

import (
	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
)

type SubmitBlockRequest struct {
	Students     []models.Member     `json:"students"`
	Teacher      models.Owner        `json:"teacher"`
	CreatedBy    models.Owner        `json:"createdBy"`
	BlockedGroup models.BlockedGroup `json:"blockedGroup"`
	TypeBlock    models.TypeBlock    `json:"typeBlock"`
	StartBlock   localtime.Time      `json:"startBlock"`
	EndBlock     localtime.Time      `json:"endBlock"`
}

// UpdateBlockRequest carries the block id and its change log. Only the last
// record of Updated is applied.
type UpdateBlockRequest struct {
	ID      string                `json:"_id"`
	Updated []models.UpdateRecord `json:"updated"`
}

type BlockedGroupName struct {
	DisplayName string `json:"displayName"`
}

// UpdateBlockResponse echoes the applied record with the resulting block and
// the membership changes made for an active block.
type UpdateBlockResponse struct {
	models.UpdateRecord
	BlockedGroup   BlockedGroupName         `json:"blockedGroup"`
	Changed        bool                     `json:"changed"`
	Block          *models.Block            `json:"block"`
	Removal        *models.MemberDiffResult `json:"removal,omitempty"`
	Addition       *models.MemberDiffResult `json:"addition,omitempty"`
	DirectoryError string                   `json:"directoryError,omitempty"`
}

type BlockActionResponse struct {
	ID     string                   `json:"_id"`
	Action string                   `json:"action"`
	Status models.Status            `json:"status"`
	Diff   *models.MemberDiffResult `json:"diff,omitempty"`
}

type ValidatePermissionRequest struct {
	RequestorUPN         string `json:"requestorUPN"`
	TeacherToBeEditedUPN string `json:"teacherToBeEditedUPN"`
}

type PermissionResponse struct {
	Requestor *models.DirectoryUser `json:"requestor"`
	Teacher   *models.DirectoryUser `json:"teacher"`
}

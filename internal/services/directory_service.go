package services

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
)

var ErrForbidden = errors.New("forbidden")

// Directory is the read side of the directory client.
type Directory interface {
	ListMembers(ctx context.Context, groupID string, studentsOnly bool) ([]models.Member, error)
	GetUser(ctx context.Context, upn string) (*models.DirectoryUser, error)
	OwnedObjects(ctx context.Context, upn string) ([]models.OwnedGroup, error)
}

type DirectoryService struct {
	dir              Directory
	allowedCompanies []string
	logger           *slog.Logger
}

// NewDirectoryService returns a service whose permission check lets staff of
// allowedCompanies manage blocks for any school.
func NewDirectoryService(dir Directory, allowedCompanies []string, logger *slog.Logger) *DirectoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryService{
		dir:              dir,
		allowedCompanies: allowedCompanies,
		logger:           logger.With("component", "directory"),
	}
}

func (s *DirectoryService) OwnedGroups(ctx context.Context, upn string) ([]models.OwnedGroup, error) {
	return s.dir.OwnedObjects(ctx, upn)
}

func (s *DirectoryService) GroupMembers(ctx context.Context, groupID string, onlyStudents bool) ([]models.Member, error) {
	return s.dir.ListMembers(ctx, groupID, onlyStudents)
}

func (s *DirectoryService) User(ctx context.Context, upn string) (*models.DirectoryUser, error) {
	return s.dir.GetUser(ctx, upn)
}

// ValidatePermission decides whether requestor may manage blocks owned by
// teacher: staff of an allowed company always may, anyone else only for a
// teacher at the same office location.
func (s *DirectoryService) ValidatePermission(ctx context.Context, req *dto.ValidatePermissionRequest) (*dto.PermissionResponse, error) {
	if req.RequestorUPN == "" || req.TeacherToBeEditedUPN == "" {
		return nil, invalid("requestorUPN and teacherToBeEditedUPN are required")
	}

	requestor, err := s.dir.GetUser(ctx, req.RequestorUPN)
	if err != nil {
		return nil, err
	}
	teacher, err := s.dir.GetUser(ctx, req.TeacherToBeEditedUPN)
	if err != nil {
		return nil, err
	}

	if slices.Contains(s.allowedCompanies, requestor.CompanyName) {
		s.logger.Info("requestor belongs to an allowed company, skipping validation", "upn", req.RequestorUPN)
	} else if requestor.OfficeLocation != teacher.OfficeLocation {
		s.logger.Warn("requestor and teacher are not in the same location",
			"upn", req.RequestorUPN, "teacher", req.TeacherToBeEditedUPN)
		return nil, ErrForbidden
	}

	return &dto.PermissionResponse{Requestor: requestor, Teacher: teacher}, nil
}

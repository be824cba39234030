package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
)

type stubDirectory struct {
	users map[string]*models.DirectoryUser
}

func (d stubDirectory) ListMembers(context.Context, string, bool) ([]models.Member, error) {
	return []models.Member{{ID: "s1"}}, nil
}

func (d stubDirectory) GetUser(_ context.Context, upn string) (*models.DirectoryUser, error) {
	u, ok := d.users[upn]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func (d stubDirectory) OwnedObjects(context.Context, string) ([]models.OwnedGroup, error) {
	return []models.OwnedGroup{{ID: "g1"}}, nil
}

func newDirectoryService() *DirectoryService {
	dir := stubDirectory{users: map[string]*models.DirectoryUser{
		"a@example.no":     {UserPrincipalName: "a@example.no", CompanyName: "Skolen VGS", OfficeLocation: "Skolen"},
		"b@example.no":     {UserPrincipalName: "b@example.no", CompanyName: "Skolen VGS", OfficeLocation: "Skolen"},
		"c@example.no":     {UserPrincipalName: "c@example.no", CompanyName: "Annen VGS", OfficeLocation: "Annen skole"},
		"admin@example.no": {UserPrincipalName: "admin@example.no", CompanyName: "Fylkeskommunen", OfficeLocation: "IT"},
	}}
	return NewDirectoryService(dir, []string{"Fylkeskommunen"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidatePermission(t *testing.T) {
	svc := newDirectoryService()
	ctx := testContext(t)

	resp, err := svc.ValidatePermission(ctx, &dto.ValidatePermissionRequest{RequestorUPN: "a@example.no", TeacherToBeEditedUPN: "b@example.no"})
	require.NoError(t, err)
	assert.Equal(t, "b@example.no", resp.Teacher.UserPrincipalName)

	_, err = svc.ValidatePermission(ctx, &dto.ValidatePermissionRequest{RequestorUPN: "a@example.no", TeacherToBeEditedUPN: "c@example.no"})
	assert.ErrorIs(t, err, ErrForbidden)

	resp, err = svc.ValidatePermission(ctx, &dto.ValidatePermissionRequest{RequestorUPN: "admin@example.no", TeacherToBeEditedUPN: "c@example.no"})
	require.NoError(t, err)
	assert.Equal(t, "Fylkeskommunen", resp.Requestor.CompanyName)

	_, err = svc.ValidatePermission(ctx, &dto.ValidatePermissionRequest{RequestorUPN: "a@example.no"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ValidatePermission(ctx, &dto.ValidatePermissionRequest{RequestorUPN: "ghost@example.no", TeacherToBeEditedUPN: "a@example.no"})
	assert.Error(t, err)
}

func TestDirectoryPassThrough(t *testing.T) {
	svc := newDirectoryService()
	ctx := testContext(t)

	groups, err := svc.OwnedGroups(ctx, "a@example.no")
	require.NoError(t, err)
	assert.Len(t, groups, 1)

	members, err := svc.GroupMembers(ctx, "g1", true)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	user, err := svc.User(ctx, "c@example.no")
	require.NoError(t, err)
	assert.Equal(t, "Annen skole", user.OfficeLocation)
}

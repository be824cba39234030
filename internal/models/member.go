package models

import "strings"

// Member is a directory user as listed on a block or returned by a group
// membership query.
type Member struct {
	ID                string `json:"id" bson:"id"`
	DisplayName       string `json:"displayName" bson:"displayName"`
	UserPrincipalName string `json:"userPrincipalName" bson:"userPrincipalName"`
	Mail              string `json:"mail,omitempty" bson:"mail,omitempty"`
}

// IdentityKey joins id, display name and principal name. Two records for the
// same person captured at different times may differ only in display fields,
// in which case both are kept for removal.
func (m Member) IdentityKey() string {
	return strings.Join([]string{m.ID, m.DisplayName, m.UserPrincipalName}, "|")
}

// DedupeByID keeps the first occurrence of every member id.
func DedupeByID(members []Member) []Member {
	seen := make(map[string]struct{}, len(members))
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// DedupeByIdentity keeps the first occurrence of every IdentityKey.
func DedupeByIdentity(members []Member) []Member {
	seen := make(map[string]struct{}, len(members))
	out := make([]Member, 0, len(members))
	for _, m := range members {
		key := m.IdentityKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// MemberIDs returns the ids in order.
func MemberIDs(members []Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

// DirectoryUser is the subset of a directory user profile the service reads.
type DirectoryUser struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"displayName"`
	GivenName         string   `json:"givenName"`
	Surname           string   `json:"surname"`
	UserPrincipalName string   `json:"userPrincipalName"`
	CompanyName       string   `json:"companyName"`
	OfficeLocation    string   `json:"officeLocation"`
	PreferredLanguage string   `json:"preferredLanguage"`
	Mail              string   `json:"mail"`
	JobTitle          string   `json:"jobTitle"`
	MobilePhone       string   `json:"mobilePhone"`
	BusinessPhones    []string `json:"businessPhones"`
}

// OwnedGroup is a directory group (school team) owned by a teacher.
type OwnedGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	Description string `json:"description"`
}

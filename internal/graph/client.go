// Package graph is a small client for the Microsoft Graph group membership
// and user endpoints. It performs no retries; callers decide what to do with
// throttled or failed requests.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"golang.org/x/oauth2/clientcredentials"
)

// MaxMembersPerRequest is the Graph limit for members@odata.bind in one
// group update.
const MaxMembersPerRequest = 20

const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

var (
	ErrMissingGroupID = errors.New("group id is required")
	ErrMissingUPN     = errors.New("user principal name is required")
	ErrTooManyMembers = fmt.Errorf("at most %d members can be added per request", MaxMembersPerRequest)
)

// APIError is a non-2xx response from Graph.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph returned status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsThrottled reports whether err is a response Graph expects the caller to
// retry later.
func IsThrottled(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Options struct {
	BaseURL string
	// PageSize is sent as $top on list requests.
	PageSize int
	// StudentSuffix is matched against lower-cased principal names when a
	// listing is restricted to students, e.g. "@skole.example.no".
	StudentSuffix string
	// Timeout bounds every single HTTP call.
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	httpClient    *http.Client
	baseURL       string
	pageSize      int
	studentSuffix string
	timeout       time.Duration
	logger        *slog.Logger
}

func New(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		httpClient:    httpClient,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		pageSize:      opts.PageSize,
		studentSuffix: strings.ToLower(opts.StudentSuffix),
		timeout:       opts.Timeout,
		logger:        opts.Logger.With("component", "graph"),
	}
}

// NewClientCredentialsHTTPClient returns an HTTP client that attaches an app
// token obtained with the client credentials grant. Tokens are cached and
// refreshed by the oauth2 package.
func NewClientCredentialsHTTPClient(ctx context.Context, tokenURL, clientID, clientSecret, scope string) *http.Client {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{scope},
	}
	return cc.Client(ctx)
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// listAll follows @odata.nextLink until Graph reports no further page.
func listAll[T any](ctx context.Context, c *Client, firstURL string) ([]T, error) {
	var all []T
	seen := make(map[string]struct{})
	next := firstURL
	for next != "" {
		if _, ok := seen[next]; ok {
			return nil, fmt.Errorf("graph pagination loop at %s", next)
		}
		seen[next] = struct{}{}

		var p page[T]
		if err := c.do(ctx, http.MethodGet, next, nil, true, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Value...)
		next = p.NextLink
	}
	return all, nil
}

// ListMembers returns every member of a group. With studentsOnly set, members
// whose principal name does not carry the student suffix are dropped.
func (c *Client) ListMembers(ctx context.Context, groupID string, studentsOnly bool) ([]models.Member, error) {
	if groupID == "" {
		return nil, ErrMissingGroupID
	}
	u := fmt.Sprintf("%s/groups/%s/members?$select=id,displayName,userPrincipalName,mail&$top=%d",
		c.baseURL, url.PathEscape(groupID), c.pageSize)

	members, err := listAll[models.Member](ctx, c, u)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of group %s: %w", groupID, err)
	}

	if studentsOnly {
		students := members[:0]
		for _, m := range members {
			if m.UserPrincipalName != "" && strings.HasSuffix(strings.ToLower(m.UserPrincipalName), c.studentSuffix) {
				students = append(students, m)
			}
		}
		members = students
	}

	c.logger.Debug("listed group members", "group_id", groupID, "count", len(members), "students_only", studentsOnly)
	if members == nil {
		members = []models.Member{}
	}
	return members, nil
}

// AddMembers adds up to MaxMembersPerRequest members in one request. Graph
// applies the update as a whole: on error none of the members can be assumed
// added.
func (c *Client) AddMembers(ctx context.Context, groupID string, memberIDs []string) error {
	if groupID == "" {
		return ErrMissingGroupID
	}
	if len(memberIDs) == 0 {
		return nil
	}
	if len(memberIDs) > MaxMembersPerRequest {
		return ErrTooManyMembers
	}

	refs := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		refs[i] = c.baseURL + "/directoryObjects/" + url.PathEscape(id)
	}
	body := map[string][]string{"members@odata.bind": refs}

	u := c.baseURL + "/groups/" + url.PathEscape(groupID)
	if err := c.do(ctx, http.MethodPatch, u, body, false, nil); err != nil {
		return fmt.Errorf("failed to add %d members to group %s: %w", len(memberIDs), groupID, err)
	}
	return nil
}

// RemoveMember removes one member. A member that is already absent is not an
// error.
func (c *Client) RemoveMember(ctx context.Context, groupID, memberID string) error {
	if groupID == "" {
		return ErrMissingGroupID
	}
	u := fmt.Sprintf("%s/groups/%s/members/%s/$ref", c.baseURL, url.PathEscape(groupID), url.PathEscape(memberID))
	err := c.do(ctx, http.MethodDelete, u, nil, false, nil)
	if IsNotFound(err) {
		c.logger.Info("member already absent from group", "group_id", groupID, "member_id", memberID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove member %s from group %s: %w", memberID, groupID, err)
	}
	return nil
}

func (c *Client) GetUser(ctx context.Context, upn string) (*models.DirectoryUser, error) {
	if upn == "" {
		return nil, ErrMissingUPN
	}
	u := c.baseURL + "/users/" + url.PathEscape(upn) +
		"?$select=id,displayName,givenName,surname,userPrincipalName,companyName,officeLocation,preferredLanguage,mail,jobTitle,mobilePhone,businessPhones"

	var user models.DirectoryUser
	if err := c.do(ctx, http.MethodGet, u, nil, false, &user); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", upn, err)
	}
	return &user, nil
}

// OwnedObjects returns the school teams owned by a user: groups whose mail
// starts with "section_" and whose name is not marked expired.
func (c *Client) OwnedObjects(ctx context.Context, upn string) ([]models.OwnedGroup, error) {
	if upn == "" {
		return nil, ErrMissingUPN
	}
	u := fmt.Sprintf("%s/users/%s/ownedObjects?$select=id,displayName,mail,description&$top=%d",
		c.baseURL, url.PathEscape(upn), c.pageSize)

	objects, err := listAll[models.OwnedGroup](ctx, c, u)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned objects of %s: %w", upn, err)
	}

	teams := make([]models.OwnedGroup, 0, len(objects))
	for _, o := range objects {
		if !strings.HasPrefix(strings.ToLower(o.Mail), "section_") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(o.DisplayName), "exp") {
			continue
		}
		teams = append(teams, o)
	}
	c.logger.Info("found owned teams", "upn", upn, "count", len(teams))
	return teams, nil
}

func (c *Client) do(ctx context.Context, method, u string, body any, eventual bool, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if eventual {
		req.Header.Set("ConsistencyLevel", "eventual")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse graph response: %w", err)
	}
	return nil
}

func parseAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

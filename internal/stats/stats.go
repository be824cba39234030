// Package stats reports processed blocks to the county statistics service.
package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
)

const description = "Viser antall elever i blokken og hvor mange ganger blokken er oppdatert. " +
	"Hvilke skole blokken tilhører. Hvilken type blokk det er og hvor blokken ble opprettet fra."

var ErrRejected = errors.New("statistics service did not create exactly one record")

// UserLookup resolves the teacher and creator of a block.
type UserLookup interface {
	GetUser(ctx context.Context, upn string) (*models.DirectoryUser, error)
}

// Record is the document posted to the statistics service.
type Record struct {
	System               string `json:"system"`
	Engine               string `json:"engine"`
	Company              string `json:"company"`
	Department           string `json:"department"`
	Description          string `json:"description"`
	ExternalID           string `json:"externalId"`
	Type                 string `json:"type"`
	BlockType            string `json:"blockType"`
	CreatedByCompany     string `json:"createdByCompany"`
	CreatedByDepartment  string `json:"createdByDepartment"`
	NumberOfStudents     int    `json:"numberOfStudents"`
	TimesBlockWasUpdated int    `json:"timesBlockWasUpdated"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	key        string
	users      UserLookup
	logger     *slog.Logger
}

// New returns a client posting to {baseURL}/stats. A client with an empty
// baseURL is disabled and Create does nothing.
func New(baseURL, key string, users UserLookup, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		users:      users,
		logger:     logger.With("component", "stats"),
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Create posts a record for block and action. It returns the created record
// as sent back by the service, or nil when the service returned nothing.
func (c *Client) Create(ctx context.Context, block *models.Block, action string) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, nil
	}

	owner, err := c.users.GetUser(ctx, block.Teacher.UserPrincipalName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up block owner: %w", err)
	}
	creator, err := c.users.GetUser(ctx, block.CreatedBy.UserPrincipalName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up block creator: %w", err)
	}

	record := Record{
		System:               "Nettsperre",
		Engine:               "azf-nettsperre",
		Company:              owner.CompanyName,
		Department:           owner.OfficeLocation,
		Description:          description,
		ExternalID:           block.ID,
		Type:                 action,
		BlockType:            block.TypeBlock.Type,
		CreatedByCompany:     creator.CompanyName,
		CreatedByDepartment:  creator.OfficeLocation,
		NumberOfStudents:     len(block.Students),
		TimesBlockWasUpdated: len(block.Updated),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal statistics: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stats", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-functions-key", c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("statistics request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("statistics service returned status %d", resp.StatusCode)
	}

	created, err := singleRecord(respBody)
	if err != nil {
		return nil, err
	}
	c.logger.Info("statistics created", "block_id", block.ID, "action", action)
	return created, nil
}

// singleRecord unwraps a one-element array. An empty body or array yields nil.
func singleRecord(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if body[0] != '[' {
		return json.RawMessage(body), nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to parse statistics response: %w", err)
	}
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return items[0], nil
	default:
		return nil, ErrRejected
	}
}

package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrSubjectNotFound is returned when the provider directory has no user
// for a username.
var ErrSubjectNotFound = errors.New("idp: subject not found in provider directory")

// DirectoryClient queries the provider's user directory API with an
// application token. The account linker uses it to resolve usernames to
// subject IDs.
type DirectoryClient struct {
	httpClient *http.Client
	endpoint   string
}

// NewDirectoryClient builds a client for the given directory endpoint,
// e.g. https://graph.microsoft.com/v1.0/users.
func NewDirectoryClient(ctx context.Context, endpoint string, ts oauth2.TokenSource) *DirectoryClient {
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = 30 * time.Second
	return &DirectoryClient{
		httpClient: client,
		endpoint:   strings.TrimSuffix(endpoint, "/"),
	}
}

// DirectoryUser is a provider directory entry. ID is the subject the
// identity token reports for the user.
type DirectoryUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type directoryPage struct {
	Value []DirectoryUser `json:"value"`
}

// FindSubjectByUsername resolves a user principal name to its directory
// entry.
func (c *DirectoryClient) FindSubjectByUsername(ctx context.Context, username string) (*DirectoryUser, error) {
	// Single quotes in OData string literals escape by doubling.
	filter := fmt.Sprintf("userPrincipalName eq '%s'", strings.ReplaceAll(username, "'", "''"))
	reqURL := c.endpoint + "?$select=id,displayName,userPrincipalName&$filter=" + url.QueryEscape(filter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider directory returned status %d", resp.StatusCode)
	}

	var page directoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}
	if len(page.Value) == 0 {
		return nil, ErrSubjectNotFound
	}
	return &page.Value[0], nil
}

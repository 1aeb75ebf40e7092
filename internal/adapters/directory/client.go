package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avrek/voxcall/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client resolves user profiles from the signaling server's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) UserByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	u := c.baseURL + "/users/" + url.PathEscape(string(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user lookup %s: status %d", id, resp.StatusCode)
	}

	var body struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	if body.ID == "" {
		body.ID = string(id)
	}
	if len(body.ID) > domain.MaxUserIDLen {
		return nil, fmt.Errorf("user lookup %s: id exceeds %d chars", id, domain.MaxUserIDLen)
	}
	profile := &domain.UserProfile{ID: domain.UserID(body.ID)}
	if err := profile.SetUsername(body.Username); err != nil {
		return nil, fmt.Errorf("user lookup %s: %w", id, err)
	}
	return profile, nil
}

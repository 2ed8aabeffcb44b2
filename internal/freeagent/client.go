package freeagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps the FreeAgent REST API and OAuth2 token endpoint.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	redirectURL  string
	httpClient   *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, clientID, clientSecret, redirectURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AuthorizeURL builds the URL the tenant is redirected to for consent.
func (c *Client) AuthorizeURL(state string) string {
	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("response_type", "code")
	query.Set("redirect_uri", c.redirectURL)
	query.Set("state", state)
	return fmt.Sprintf("%s/v2/approve_app?%s", c.baseURL, query.Encode())
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURL)
	return c.tokenGrant(ctx, form)
}

// Refresh performs a refresh-token grant. The returned credential carries the
// possibly-rotated refresh token; when FreeAgent omits it the old one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	cred, err := c.tokenGrant(ctx, form)
	if err != nil {
		return Credential{}, err
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

func (c *Client) tokenGrant(ctx context.Context, form url.Values) (Credential, error) {
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v2/token_endpoint", c.baseURL), strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrReconnectRequired, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return Credential{}, fmt.Errorf("%w: token endpoint returned status %d", ErrReconnectRequired, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return Credential{}, fmt.Errorf("%w: decode token response: %v", ErrReconnectRequired, err)
	}
	return Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}, nil
}

// GetCompany fetches the company profile.
func (c *Client) GetCompany(ctx context.Context, accessToken string) (CompanyProfile, error) {
	var payload struct {
		Company CompanyProfile `json:"company"`
	}
	if err := c.get(ctx, accessToken, "/v2/company", &payload); err != nil {
		return CompanyProfile{}, err
	}
	return payload.Company, nil
}

// ListContacts fetches all contacts.
func (c *Client) ListContacts(ctx context.Context, accessToken string) ([]Contact, error) {
	var payload struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := c.get(ctx, accessToken, "/v2/contacts", &payload); err != nil {
		return nil, err
	}
	return payload.Contacts, nil
}

// ListProjects fetches all projects.
func (c *Client) ListProjects(ctx context.Context, accessToken string) ([]Project, error) {
	var payload struct {
		Projects []Project `json:"projects"`
	}
	if err := c.get(ctx, accessToken, "/v2/projects", &payload); err != nil {
		return nil, err
	}
	return payload.Projects, nil
}

// ListCategories fetches accounting categories, flattened across groups.
func (c *Client) ListCategories(ctx context.Context, accessToken string) ([]Category, error) {
	var payload struct {
		AdminExpenses   []Category `json:"admin_expenses_categories"`
		CostOfSales     []Category `json:"cost_of_sales_categories"`
		Income          []Category `json:"income_categories"`
		GeneralExpenses []Category `json:"general_categories"`
	}
	if err := c.get(ctx, accessToken, "/v2/categories", &payload); err != nil {
		return nil, err
	}
	categories := make([]Category, 0, len(payload.AdminExpenses)+len(payload.CostOfSales)+len(payload.Income)+len(payload.GeneralExpenses))
	categories = append(categories, payload.AdminExpenses...)
	categories = append(categories, payload.CostOfSales...)
	categories = append(categories, payload.Income...)
	categories = append(categories, payload.GeneralExpenses...)
	return categories, nil
}

// CreateBill creates a bill and returns the stored resource with its URL.
func (c *Client) CreateBill(ctx context.Context, accessToken string, bill Bill) (Bill, error) {
	var payload struct {
		Bill Bill `json:"bill"`
	}
	body := map[string]Bill{"bill": bill}
	if err := c.post(ctx, accessToken, "/v2/bills", body, &payload); err != nil {
		return Bill{}, err
	}
	return payload.Bill, nil
}

// CreateProject creates a project and returns the stored resource.
func (c *Client) CreateProject(ctx context.Context, accessToken string, project Project) (Project, error) {
	var payload struct {
		Project Project `json:"project"`
	}
	body := map[string]Project{"project": project}
	if err := c.post(ctx, accessToken, "/v2/projects", body, &payload); err != nil {
		return Project{}, err
	}
	return payload.Project, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, accessToken, out)
}

func (c *Client) post(ctx context.Context, accessToken, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, accessToken, out)
}

func (c *Client) do(req *http.Request, accessToken string, out any) error {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("freeagent: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("freeagent: %s %s returned status %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

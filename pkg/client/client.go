// Package client is a typed Go client for the creperie REST API. It keeps the session
// token returned by Register or Login and sends it as a bearer token on later calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx answer decoded from the error envelope.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
	// Order is the current state of the order when a status change was rejected.
	Order *models.Order
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("api error %d: %s %v", e.StatusCode, e.Message, e.Fields)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger

	mu    sync.RWMutex
	token string
}

// New returns a client for baseURL. A nil httpClient gets a 10 second timeout.
func New(baseURL string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type authResponse struct {
	User  *models.Actor `json:"user"`
	Token string        `json:"token"`
}

func (c *Client) Register(ctx context.Context, email, password, name string) (*models.Actor, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", body, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*models.Actor, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *Client) Me(ctx context.Context) (*models.Actor, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]models.Actor, error) {
	var resp struct {
		Users []models.Actor `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// UpdateUser changes an actor's role or active flag. Owner only.
func (c *Client) UpdateUser(ctx context.Context, id int64, patch models.ActorPatch) (*models.Actor, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/users/%d", id), patch, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	var resp struct {
		Categories []models.Category `json:"categories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/categories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

func (c *Client) ListMenuItems(ctx context.Context) ([]models.MenuItem, error) {
	var resp struct {
		Items []models.MenuItem `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/menu-items", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error) {
	var resp struct {
		Item *models.MenuItem `json:"item"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/menu-items/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Item, nil
}

// SubmitOrder places an order, attributed to the signed-in actor when there is one.
func (c *Client) SubmitOrder(ctx context.Context, req models.CheckoutRequest) (*models.Order, error) {
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/orders", req, &resp); err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"order_id":     resp.Order.ID,
			"total_amount": resp.Order.TotalAmount,
		}).Info("Order submitted")
	}
	return resp.Order, nil
}

func (c *Client) ListOrders(ctx context.Context) ([]models.Order, error) {
	var resp struct {
		Orders []models.Order `json:"orders"`
		Count  int            `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status models.Status) (*models.Order, error) {
	var resp models.OrderResponse
	body := models.StatusUpdateRequest{Status: string(status)}
	if err := c.do(ctx, http.MethodPatch, "/api/orders/"+id, body, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// OrderQRCode returns the PNG pickup code of an order.
func (c *Client) OrderQRCode(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/orders/"+id+"/qrcode", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) CreateReservation(ctx context.Context, r models.Reservation) (*models.Reservation, error) {
	var resp struct {
		Reservation *models.Reservation `json:"reservation"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/reservations", r, &resp); err != nil {
		return nil, err
	}
	return resp.Reservation, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var envelope struct {
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
		Order   *models.Order     `json:"order"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}
	apiErr.Message = envelope.Message
	apiErr.Fields = envelope.Fields
	apiErr.Order = envelope.Order
	return apiErr
}

package account

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nerrad567/smartbulb-core/internal/device"
)

// Client defaults.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultHealthTimeout = 3 * time.Second

	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second

	// MinPasswordLength is enforced locally before register and reset.
	MinPasswordLength = 8

	// CodeLength is the number of digits in a verification code.
	CodeLength = 6

	maxReplyBytes = 1 << 20
)

// Logger is the logging surface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// BreakerSettings configures the circuit breaker in front of the backend.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration

	// Interval clears failure counts while closed.
	Interval time.Duration
}

// Options configures a Client.
type Options struct {
	// BaseURL is the backend root, e.g. "http://localhost:5000". Required.
	BaseURL string

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// HealthTimeout bounds Ping. Zero uses DefaultHealthTimeout.
	HealthTimeout time.Duration

	Breaker BreakerSettings

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	Logger Logger
}

// Client talks to the account backend: account lifecycle and the bulbs
// registered to each account. Every endpoint is a JSON POST whose reply
// carries "status" ("success" or "error") and usually "message".
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL       string
	http          *http.Client
	healthTimeout time.Duration
	breaker       *gobreaker.CircuitBreaker[*reply]
	logger        Logger
	random        io.Reader
}

// reply is the union of every endpoint's response body.
type reply struct {
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	Available *bool      `json:"available,omitempty"`
	Code      string     `json:"code,omitempty"`
	Bulbs     []bulbJSON `json:"bulbs,omitempty"`
}

type bulbJSON struct {
	BulbID      string  `json:"bulb_id"`
	BulbName    string  `json:"bulb_name"`
	RoomName    *string `json:"room_name"`
	AddedAt     *string `json:"added_at"`
	LastSeen    *string `json:"last_seen"`
	IsSimulated bool    `json:"is_simulated"`
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidRequest)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	healthTimeout := opts.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = DefaultHealthTimeout
	}

	maxFailures := opts.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := opts.Breaker.Timeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}
	interval := opts.Breaker.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[*reply](gobreaker.Settings{
		Name:        "account-backend",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.clientSide())
		},
	})

	return &Client{
		baseURL:       base,
		http:          httpClient,
		healthTimeout: healthTimeout,
		breaker:       cb,
		logger:        logger,
		random:        rand.Reader,
	}, nil
}

// BreakerState returns the circuit breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// =============================================================================
// Account lifecycle
// =============================================================================

// CheckEmail reports whether email is still free to register.
func (c *Client) CheckEmail(ctx context.Context, email string) (bool, error) {
	r, err := c.call(ctx, "/check_email", map[string]any{"email": strings.TrimSpace(email)})
	if err != nil {
		return false, err
	}
	if r.Available == nil {
		return false, fmt.Errorf("%w: check_email reply without availability", ErrBackend)
	}
	return *r.Available, nil
}

// SendCode generates a verification code, asks the backend to mail it and
// returns it so the caller can compare it with what the user types.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - email: address the code is mailed to
//
// Returns:
//   - string: the six-digit code that was sent
//   - error: ErrInvalidRequest for a malformed address, ErrUnavailable
//     when the backend cannot be reached or the circuit is open
func (c *Client) SendCode(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidRequest)
	}
	code, err := c.newCode()
	if err != nil {
		return "", err
	}
	if _, err := c.call(ctx, "/send_code", map[string]any{"email": email, "code": code}); err != nil {
		return "", err
	}
	return code, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidRequest)
	}
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	_, err := c.call(ctx, "/register", map[string]any{"email": email, "password": password})
	return err
}

// Login verifies the credentials.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - email: account address
//   - password: plain-text password, sent over the configured transport
//
// Returns:
//   - error: ErrUnauthorized for wrong credentials, ErrNotFound for an
//     unknown account, ErrUnavailable when the backend is unreachable
func (c *Client) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("%w: email and password are required", ErrInvalidRequest)
	}
	_, err := c.call(ctx, "/login", map[string]any{"email": email, "password": password})
	return err
}

// ResetPassword replaces the password of an existing account.
func (c *Client) ResetPassword(ctx context.Context, email, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	_, err := c.call(ctx, "/reset_password", map[string]any{"email": strings.TrimSpace(email), "password": password})
	return err
}

// =============================================================================
// Bulbs
// =============================================================================

// AddBulb registers a bulb with the account.
func (c *Client) AddBulb(ctx context.Context, email string, bulb device.SavedDevice) error {
	if bulb.DeviceID == "" || bulb.DisplayName == "" {
		return fmt.Errorf("%w: bulb id and name are required", ErrInvalidRequest)
	}
	_, err := c.call(ctx, "/add_bulb", map[string]any{
		"email":        email,
		"bulb_id":      bulb.DeviceID,
		"bulb_name":    bulb.DisplayName,
		"room_name":    bulb.RoomLabel,
		"is_simulated": bulb.IsSimulated,
	})
	return err
}

// GetBulbs lists the account's bulbs of one mode, newest first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - email: account address
//   - simulatorMode: selects simulated or real bulbs
//
// Returns:
//   - []device.SavedDevice: the bulbs, possibly empty
//   - error: ErrUnavailable or ErrBackend on failure
func (c *Client) GetBulbs(ctx context.Context, email string, simulatorMode bool) ([]device.SavedDevice, error) {
	r, err := c.call(ctx, "/get_bulbs", map[string]any{"email": email, "simulator_mode": simulatorMode})
	if err != nil {
		return nil, err
	}
	out := make([]device.SavedDevice, 0, len(r.Bulbs))
	for _, b := range r.Bulbs {
		out = append(out, b.saved())
	}
	return out, nil
}

// UpdateBulb renames a bulb or moves it to another room. Empty values
// are left unchanged; at least one must be set.
func (c *Client) UpdateBulb(ctx context.Context, email, bulbID, name, room string) error {
	if name == "" && room == "" {
		return fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}
	body := map[string]any{"email": email, "bulb_id": bulbID}
	if name != "" {
		body["bulb_name"] = name
	}
	if room != "" {
		body["room_name"] = room
	}
	_, err := c.call(ctx, "/update_bulb", body)
	return err
}

// DeleteBulb removes a bulb from the account.
func (c *Client) DeleteBulb(ctx context.Context, email, bulbID string) error {
	_, err := c.call(ctx, "/delete_bulb", map[string]any{"email": email, "bulb_id": bulbID})
	return err
}

// =============================================================================
// Health
// =============================================================================

// Ping probes the backend with a short timeout. Any HTTP reply counts as
// reachable. Ping bypasses the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/check_email", map[string]any{"email": ""})
	if err != nil {
		return err
	}
	resp.Body.Close() //nolint:errcheck // Body unused
	return nil
}

// =============================================================================
// Transport
// =============================================================================

// call posts body to endpoint through the breaker and decodes the reply.
func (c *Client) call(ctx context.Context, endpoint string, body map[string]any) (*reply, error) {
	r, err := c.breaker.Execute(func() (*reply, error) {
		return c.do(ctx, endpoint, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open: %w", ErrUnavailable, err)
	}
	return r, err
}

func (c *Client) do(ctx context.Context, endpoint string, body map[string]any) (*reply, error) {
	resp, err := c.post(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s reply: %w", ErrUnavailable, endpoint, err)
	}

	var r reply
	decodeErr := json.Unmarshal(raw, &r)

	if resp.StatusCode >= 300 || r.Status == "error" {
		msg := r.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		status := resp.StatusCode
		if status < 300 {
			status = http.StatusBadRequest
		}
		c.logger.Debug("account backend rejected request", "endpoint", endpoint, "status", status, "message", msg)
		return nil, &APIError{Endpoint: endpoint, StatusCode: status, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decoding %s reply: %w", ErrBackend, endpoint, decodeErr)
	}
	return &r, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, endpoint, err)
	}
	return resp, nil
}

func (c *Client) newCode() (string, error) {
	n, err := rand.Int(c.random, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func validEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	return ok && local != "" && strings.Contains(domain, ".")
}

// backendTimeLayouts are the timestamp formats the backend emits.
var backendTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseBackendTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range backendTimeLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	return nil
}

func (b bulbJSON) saved() device.SavedDevice {
	d := device.SavedDevice{
		DeviceID:    b.BulbID,
		DisplayName: b.BulbName,
		IsSimulated: b.IsSimulated,
		AddedAt:     parseBackendTime(b.AddedAt),
		LastSeen:    parseBackendTime(b.LastSeen),
	}
	if b.RoomName != nil {
		d.RoomLabel = *b.RoomName
	}
	return d
}

package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/tableside/internal/observability/tracing"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
	defaultEndpoint = "https://fcm.googleapis.com"
	maxErrorBody    = 4096
)

type Config struct {
	ProjectID       string
	CredentialsFile string
	Endpoint        string
}

// Provider sends through the FCM HTTP v1 API.
type Provider struct {
	url    string
	client *http.Client
}

// New loads service-account credentials from cfg.CredentialsFile, or the
// application default credentials when it is empty.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("fcm project id is required")
	}

	var (
		creds *google.Credentials
		err   error
	)
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read fcm credentials: %w", readErr)
		}
		creds, err = google.CredentialsFromJSON(ctx, raw, messagingScope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, messagingScope)
	}
	if err != nil {
		return nil, fmt.Errorf("load fcm credentials: %w", err)
	}
	return NewWithTokenSource(cfg, creds.TokenSource), nil
}

func NewWithTokenSource(cfg Config, source oauth2.TokenSource) *Provider {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	base := tracing.WrapHTTPClient(&http.Client{})
	return &Provider{
		url: endpoint + "/v1/projects/" + strings.TrimSpace(cfg.ProjectID) + "/messages:send",
		client: &http.Client{
			Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, source), Base: base.Transport},
		},
	}
}

func (p *Provider) Name() string { return "fcm" }

type sendRequest struct {
	Message message `json:"message"`
}

type message struct {
	Token        string            `json:"token"`
	Notification *notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *androidConfig    `json:"android,omitempty"`
	APNS         *apnsConfig       `json:"apns,omitempty"`
}

type notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type androidConfig struct {
	Priority     string               `json:"priority,omitempty"`
	TTL          string               `json:"ttl,omitempty"`
	Notification *androidNotification `json:"notification,omitempty"`
}

type androidNotification struct {
	Sound string `json:"sound,omitempty"`
}

type apnsConfig struct {
	Payload apnsPayload `json:"payload"`
}

type apnsPayload struct {
	Aps aps `json:"aps"`
}

type aps struct {
	Sound string `json:"sound,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

func (p *Provider) Send(ctx context.Context, token string, n pushdomain.Notification) error {
	body, err := json.Marshal(buildRequest(token, n))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return classify(resp.StatusCode, raw)
}

func buildRequest(token string, n pushdomain.Notification) sendRequest {
	msg := message{Token: token, Data: n.Data}
	if n.Title != "" || n.Body != "" {
		msg.Notification = &notification{Title: n.Title, Body: n.Body}
	}
	android := &androidConfig{Priority: "high"}
	if n.TTL > 0 {
		android.TTL = strconv.FormatInt(int64(n.TTL/time.Second), 10) + "s"
	}
	if n.Sound != "" {
		android.Notification = &androidNotification{Sound: n.Sound}
		msg.APNS = &apnsConfig{Payload: apnsPayload{Aps: aps{Sound: n.Sound}}}
	}
	msg.Android = android
	return sendRequest{Message: msg}
}

// classify maps an FCM error response onto the push error taxonomy.
func classify(status int, raw []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(raw, &parsed)

	code := parsed.Error.Status
	for _, detail := range parsed.Error.Details {
		if detail.ErrorCode != "" {
			code = detail.ErrorCode
			break
		}
	}

	switch {
	case code == "UNREGISTERED" || status == http.StatusNotFound:
		return fmt.Errorf("fcm %d %s: %w", status, code, pushdomain.ErrTokenInvalid)
	case code == "INVALID_ARGUMENT" && strings.Contains(strings.ToLower(parsed.Error.Message), "registration token"):
		return fmt.Errorf("fcm %d %s: %w", status, code, pushdomain.ErrTokenInvalid)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError || code == "UNAVAILABLE" || code == "QUOTA_EXCEEDED":
		return fmt.Errorf("fcm %d %s: %w", status, code, pushdomain.ErrProviderUnavailable)
	default:
		return fmt.Errorf("fcm %d %s: %s", status, code, parsed.Error.Message)
	}
}

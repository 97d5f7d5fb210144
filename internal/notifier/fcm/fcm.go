// Package fcm delivers notifications through Firebase Cloud Messaging's
// HTTP v1 API.
//
// AUTHENTICATION:
// FCM v1 requires OAuth2 bearer tokens minted from a service-account key.
// We take an oauth2.TokenSource and let oauth2.NewClient handle token
// caching and refresh — the same transport-wrapping pattern as any other
// Google API client, with no Firebase SDK dependency.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/stela-network/stela-backend/internal/notifier"
)

// Scope required to call the FCM v1 send endpoint.
const messagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// androidChannelID must match the channel the mobile client registers.
const androidChannelID = "stela_network_channel"

// Client sends messages via the FCM HTTP v1 API.
type Client struct {
	http      *http.Client
	sendURL   string
	projectID string
}

var _ notifier.Notifier = (*Client)(nil)

// New creates a Client from a service-account credentials file.
func New(ctx context.Context, projectID, credentialsFile string) (*Client, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("fcm: reading credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, messagingScope)
	if err != nil {
		return nil, fmt.Errorf("fcm: parsing credentials: %w", err)
	}
	return NewWithTokenSource(projectID, creds.TokenSource), nil
}

// NewWithTokenSource creates a Client with an explicit token source.
// Tests inject a static token source and point sendURL at a test server.
func NewWithTokenSource(projectID string, ts oauth2.TokenSource) *Client {
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 10 * time.Second
	return &Client{
		http:      httpClient,
		sendURL:   fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", projectID),
		projectID: projectID,
	}
}

// v1 request/response shapes — only the fields this engine sends.
type sendRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *androidConfig    `json:"android,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type androidConfig struct {
	Priority     string              `json:"priority"`
	Notification androidNotification `json:"notification"`
}

type androidNotification struct {
	ChannelID string `json:"channel_id"`
	Sound     string `json:"sound"`
}

type errorResponse struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers one message. A response indicating the token is
// unregistered or malformed is reported as notifier.ErrInvalidTarget so
// the caller can clear the stored token; everything else (quota, 5xx,
// network) is transient.
func (c *Client) Send(ctx context.Context, msg notifier.Message) error {
	if msg.Target == "" {
		return fmt.Errorf("%w: empty target", notifier.ErrInvalidTarget)
	}

	payload := sendRequest{
		Message: fcmMessage{
			Token: msg.Target,
			Notification: fcmNotification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
			Android: &androidConfig{
				Priority: "high",
				Notification: androidNotification{
					ChannelID: androidChannelID,
					Sound:     "default",
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("fcm: encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fcm: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fcm: sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errResp errorResponse
	_ = json.Unmarshal(respBody, &errResp)

	// UNREGISTERED (404) means the device token is dead; INVALID_ARGUMENT
	// with a token complaint means it never was valid.
	if resp.StatusCode == http.StatusNotFound ||
		strings.Contains(string(respBody), "UNREGISTERED") ||
		(resp.StatusCode == http.StatusBadRequest && strings.Contains(errResp.Error.Message, "token")) {
		return fmt.Errorf("%w: %s", notifier.ErrInvalidTarget, errResp.Error.Status)
	}

	return fmt.Errorf("fcm: send failed with status %d: %s", resp.StatusCode, errResp.Error.Message)
}

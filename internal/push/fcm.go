// Package push implements delivery against FCM's HTTP v1 API. The client is
// constructed exactly once in main and injected wherever sends happen.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"

	"github.com/casetrail/casealert/internal/domain/push"
)

const (
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
	defaultEndpoint = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
	defaultTTL      = time.Hour
)

type FCMConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	ProjectID       string        `mapstructure:"project_id"`
	TTL             time.Duration `mapstructure:"ttl"`
	Timeout         time.Duration `mapstructure:"timeout"`
	// Endpoint overrides the FCM URL, for tests.
	Endpoint string `mapstructure:"endpoint"`
}

var _ push.Sender = (*FCM)(nil)

type FCM struct {
	client   *http.Client
	endpoint string
	ttl      time.Duration
	log      *zap.Logger
}

// NewFCM builds the sender from a service-account key file. The oauth2 client
// caches and refreshes tokens itself, so there is no re-initialization path.
func NewFCM(ctx context.Context, cfg FCMConfig, log *zap.Logger) (*FCM, error) {
	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read fcm credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(creds, messagingScope)
	if err != nil {
		return nil, fmt.Errorf("parse fcm credentials: %w", err)
	}

	client := jwtCfg.Client(ctx)
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf(defaultEndpoint, cfg.ProjectID)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &FCM{
		client:   client,
		endpoint: endpoint,
		ttl:      ttl,
		log:      log.With(zap.String("component", "push.fcm")),
	}, nil
}

// sendRequest mirrors the HTTP v1 message envelope. Data-only: the display
// block stays empty so the device controls rendering, channel and sound.
type sendRequest struct {
	Message message `json:"message"`
}

type message struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data"`
	Android androidConfig     `json:"android"`
}

type androidConfig struct {
	Priority string `json:"priority"`
	TTL      string `json:"ttl"`
}

func (f *FCM) Send(ctx context.Context, token string, data map[string]string) error {
	body, err := json.Marshal(sendRequest{
		Message: message{
			Token: token,
			Data:  data,
			Android: androidConfig{
				Priority: "HIGH",
				TTL:      fmt.Sprintf("%ds", int(f.ttl.Seconds())),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal fcm message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		f.log.Debug("fcm rejected message",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail),
		)
		return fmt.Errorf("fcm send: status %d", resp.StatusCode)
	}
	return nil
}

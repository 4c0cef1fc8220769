package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/portfolio-ingest/internal/model"
	"github.com/sells-group/portfolio-ingest/internal/resilience"
)

// GraphOptions configures the Microsoft Graph message source.
type GraphOptions struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Mailbox      string // shared mailbox the updates arrive in

	// BaseURL and TokenURL override the Graph endpoints. Tests point
	// these at a local server.
	BaseURL  string
	TokenURL string

	Timeout       time.Duration
	RatePerSecond float64
	Retry         resilience.RetryConfig
}

// GraphSource fetches messages with attachments from a Microsoft Graph
// mailbox using client-credentials auth.
type GraphSource struct {
	opts    GraphOptions
	client  *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewGraph creates a GraphSource. Defaults: 30s timeout, 5 req/s.
func NewGraph(opts GraphOptions) *GraphSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if opts.TokenURL == "" {
		opts.TokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", opts.TenantID)
	}
	return &GraphSource{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), int(opts.RatePerSecond)+1),
	}
}

// graphMessage mirrors the subset of the Graph message resource we read.
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    struct {
		Content string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	Attachments      []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		ContentBytes string `json:"contentBytes"`
	} `json:"attachments"`
}

// Fetch retrieves one message with its attachments expanded inline.
func (g *GraphSource) Fetch(ctx context.Context, messageID string) (*model.Message, error) {
	endpoint := fmt.Sprintf("%s/users/%s/messages/%s?$expand=attachments",
		g.opts.BaseURL, url.PathEscape(g.opts.Mailbox), url.PathEscape(messageID))

	retry := g.opts.Retry
	retry.OnRetry = resilience.RetryLogger("graph", "fetch_message")

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return g.get(ctx, endpoint)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: fetch message %s", messageID)
	}

	var gm graphMessage
	if err := json.Unmarshal(body, &gm); err != nil {
		return nil, eris.Wrapf(err, "source: decode message %s", messageID)
	}

	msg := &model.Message{
		ID:         gm.ID,
		Subject:    gm.Subject,
		Body:       gm.Body.Content,
		From:       gm.From.EmailAddress.Address,
		ReceivedAt: gm.ReceivedDateTime,
	}
	for _, a := range gm.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.ContentBytes)
		if err != nil {
			zap.L().Warn("source: skipping attachment with invalid content",
				zap.String("message_id", messageID),
				zap.String("attachment", a.Name),
			)
			continue
		}
		msg.Attachments = append(msg.Attachments, model.Attachment{
			ID:          a.ID,
			Name:        a.Name,
			ContentType: a.ContentType,
			Content:     content,
		})
	}

	zap.L().Debug("source: fetched message",
		zap.String("message_id", messageID),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return msg, nil
}

func (g *GraphSource) get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "source: rate limiter")
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "source: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "source: do request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "source: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("source: graph returned %d: %s", resp.StatusCode, truncate(string(body), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return body, nil
}

// accessToken returns a cached client-credentials token, refreshing it
// one minute before expiry.
func (g *GraphSource) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Until(g.tokenExpiry) > time.Minute {
		return g.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {g.opts.ClientID},
		"client_secret": {g.opts.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.opts.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "source: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "source: token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "source: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("source: token endpoint returned %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", eris.Wrap(err, "source: decode token response")
	}
	if tok.AccessToken == "" {
		return "", eris.New("source: token response missing access_token")
	}

	g.token = tok.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return g.token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

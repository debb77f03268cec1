package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	tokenEndpoint     = "/open-apis/auth/v3/tenant_access_token/internal"
	messagesEndpoint  = "/open-apis/im/v1/messages"
	botInfoEndpoint   = "/open-apis/bot/v3/info"
	tokenExpiryBuffer = 3 * time.Minute
)

// client is a minimal Lark open-platform API client over net/http. It
// refreshes the tenant_access_token before expiry and retries a call
// once when the platform reports the token invalid.
type client struct {
	baseURL   string
	appID     string
	appSecret string
	http      *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func newClient(appID, appSecret, baseURL string) *client {
	return &client{
		baseURL:   baseURL,
		appID:     appID,
		appSecret: appSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lark: token request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("lark: token decode: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("lark: token error: code=%d msg=%s", result.Code, result.Msg)
	}

	c.token = result.TenantAccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.Expire)*time.Second - tokenExpiryBuffer)
	return c.token, nil
}

func (c *client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

func isTokenError(code int) bool {
	return code == 99991663 || code == 99991664 || code == 99991671
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *client) doJSON(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	resp, err := c.doJSONOnce(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if isTokenError(resp.Code) {
		c.clearToken()
		return c.doJSONOnce(ctx, method, path, body)
	}
	return resp, nil
}

func (c *client) doJSONOnce(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("lark: marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lark: api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("lark: api decode: %w", err)
	}
	return &result, nil
}

// sendText posts a text message to a chat. Mentions go inline as
// <at user_id="..."></at> tags inside the text content.
func (c *client) sendText(ctx context.Context, chatID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	resp, err := c.doJSON(ctx, http.MethodPost, messagesEndpoint+"?receive_id_type=chat_id", map[string]string{
		"receive_id": chatID,
		"msg_type":   "text",
		"content":    string(content),
	})
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("lark: send message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// botInfo fetches the bot's own open_id, used to recognize @-mentions.
func (c *client) botInfo(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, botInfoEndpoint, nil)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("lark: bot info: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var data struct {
		Bot struct {
			OpenID string `json:"open_id"`
		} `json:"bot"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("lark: bot info decode: %w", err)
	}
	return data.Bot.OpenID, nil
}

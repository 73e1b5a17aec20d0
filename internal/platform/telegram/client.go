package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.telegram.org"

// Telegram caps message text at 4096 characters.
const maxMessageRunes = 4096

var ErrNotConfigured = errors.New("telegram bot token is not configured")

type Client struct {
	http  *resty.Client
	token string
	log   *zap.Logger
}

// NewClient builds a Bot API client. An empty baseURL means the public API.
func NewClient(baseURL, token string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		token: token,
		log:   log.Named("telegram"),
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

type sendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// SendMessage sends plain text. Markdown parsing is left off because report
// text carries arbitrary clinical content.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if c.token == "" {
		return ErrNotConfigured
	}
	if r := []rune(text); len(r) > maxMessageRunes {
		text = string(r[:maxMessageRunes-1]) + "…"
	}

	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendMessageReq{ChatID: chatID, Text: text}).
		SetResult(&out).
		SetError(&out).
		Post(c.method("sendMessage"))
	return c.check("sendMessage", resp, err, out)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, data []byte, fileName, caption string) error {
	if c.token == "" {
		return ErrNotConfigured
	}

	form := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if caption != "" {
		form["caption"] = caption
	}

	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetFileReader("document", fileName, bytes.NewReader(data)).
		SetResult(&out).
		SetError(&out).
		Post(c.method("sendDocument"))
	return c.check("sendDocument", resp, err, out)
}

func (c *Client) method(name string) string {
	return "/bot" + c.token + "/" + name
}

func (c *Client) check(method string, resp *resty.Response, err error, out apiResponse) error {
	if err != nil {
		// The request URL carries the token; keep it out of the error.
		return fmt.Errorf("telegram %s: request failed", method)
	}
	if resp.IsError() || !out.OK {
		c.log.Warn("telegram api error",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode()),
			zap.String("description", out.Description),
		)
		return fmt.Errorf("telegram %s returned %d: %s", method, resp.StatusCode(), out.Description)
	}
	return nil
}

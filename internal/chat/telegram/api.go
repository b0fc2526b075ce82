package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// errUnauthorized marks a revoked or invalid bot token.
var errUnauthorized = errors.New("telegram: bot token rejected")

const maxResponseBytes = 8 << 20

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type user struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

type chatRef struct {
	ID int64 `json:"id"`
}

type message struct {
	MessageID int64   `json:"message_id"`
	From      *user   `json:"from"`
	Chat      chatRef `json:"chat"`
	Text      string  `json:"text"`
	Caption   string  `json:"caption"`
}

type update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *message `json:"message"`
	EditedMessage *message `json:"edited_message"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// call invokes a Bot API method and decodes its result into out.
func (t *Transport) call(ctx context.Context, method string, body, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", method, err)
		}
		payload = bytes.NewReader(b)
	}
	u := strings.TrimRight(t.cfg.APIBase, "/") + "/bot" + t.cfg.Token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, payload)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := t.http.Do(req)
	if err != nil {
		// Never surface the URL: it carries the bot token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	if res.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", method, errUnauthorized)
	}
	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s status=%d: decode response: %w", method, res.StatusCode, err)
	}
	if !env.OK {
		if env.ErrorCode == http.StatusUnauthorized {
			return fmt.Errorf("%s: %w", method, errUnauthorized)
		}
		return fmt.Errorf("%s api error code=%d: %s", method, env.ErrorCode, env.Description)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

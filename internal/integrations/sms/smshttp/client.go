package smshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/integrations/sms"
	"github.com/tidyzon/enroute/internal/models"
)

// Client шлёт транзакционные SMS через HTTP-шлюз.
type Client struct {
	baseURL  string
	apiKey   string
	senderID string
	httpc    *http.Client
}

var _ sms.Sender = (*Client)(nil)

func New(baseURL, apiKey, senderID string) *Client {
	if senderID == "" {
		senderID = "TIDYZON"
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		senderID: senderID,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	To     string `json:"to"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Type   string `json:"type"`
}

type sendResp struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (c *Client) Send(ctx context.Context, phone, text string) (string, error) {
	body, err := json.Marshal(sendReq{
		To:     phone,
		Sender: c.senderID,
		Text:   text,
		Type:   "transactional",
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal sms request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(models.ErrUpstreamUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", errors.Wrapf(models.ErrUpstreamUnavailable, "sms gateway http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(models.ErrUpstreamUnavailable, err.Error())
	}

	return r.MessageID, nil
}

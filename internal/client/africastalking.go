package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

// AfricasTalkingSMS sends SMS through the Africa's Talking messaging API.
type AfricasTalkingSMS struct {
	httpClient *http.Client
	config     config.AfricasTalkingConfig
}

type africasTalkingResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			StatusCode int    `json:"statusCode"`
			Number     string `json:"number"`
			Status     string `json:"status"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func NewAfricasTalkingSMS(cfg config.AfricasTalkingConfig, timeout time.Duration) *AfricasTalkingSMS {
	return &AfricasTalkingSMS{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
	}
}

// Send reports delivered=false when the API accepted the request but
// rejected every recipient.
func (a *AfricasTalkingSMS) Send(ctx context.Context, to, message string) (bool, error) {
	data := url.Values{}
	data.Set("username", a.config.Username)
	data.Set("to", "+"+strings.TrimPrefix(to, "+"))
	data.Set("message", message)
	if a.config.SenderID != "" {
		data.Set("from", a.config.SenderID)
	}

	endpoint := strings.TrimRight(a.config.BaseURL, "/") + "/version1/messaging"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", a.config.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return false, fmt.Errorf("africa's talking API error (status %d)", resp.StatusCode)
	}

	var atResp africasTalkingResponse
	if err := json.NewDecoder(resp.Body).Decode(&atResp); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	for _, r := range atResp.SMSMessageData.Recipients {
		// 100 processed, 101 sent, 102 queued
		if r.StatusCode >= 100 && r.StatusCode <= 102 {
			util.Debug("SMS accepted by Africa's Talking", util.MaskPhone(to), zap.String("message_id", r.MessageID))
			return true, nil
		}
	}

	util.Warn("Africa's Talking rejected all recipients",
		util.MaskPhone(to),
		zap.String("summary", atResp.SMSMessageData.Message))
	return false, nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

type twilioMessageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Message      string `json:"message,omitempty"` // set on 4xx bodies
}

// TwilioMessaging sends through the Twilio Messages API, either as plain
// SMS or over WhatsApp.
type TwilioMessaging struct {
	httpClient *http.Client
	config     config.TwilioConfig
	whatsapp   bool
}

func NewTwilioSMS(cfg config.TwilioConfig, timeout time.Duration) *TwilioMessaging {
	return &TwilioMessaging{httpClient: &http.Client{Timeout: timeout}, config: cfg}
}

func NewTwilioWhatsApp(cfg config.TwilioConfig, timeout time.Duration) *TwilioMessaging {
	return &TwilioMessaging{httpClient: &http.Client{Timeout: timeout}, config: cfg, whatsapp: true}
}

func (t *TwilioMessaging) Send(ctx context.Context, to, message string) (bool, error) {
	from, dest := t.config.FromNumber, e164(to)
	if t.whatsapp {
		from, dest = "whatsapp:"+e164(t.config.WhatsAppFrom), "whatsapp:"+dest
	}

	data := url.Values{}
	data.Set("To", dest)
	data.Set("From", from)
	data.Set("Body", message)

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(t.config.BaseURL, "/"), t.config.AccountSID)

	var twilioResp twilioMessageResponse
	status, err := twilioPost(ctx, t.httpClient, apiURL, t.config, data, &twilioResp)
	if err != nil {
		return false, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		errorMsg := fmt.Sprintf("twilio API error (status %d)", status)
		if msg := firstNonEmpty(twilioResp.ErrorMessage, twilioResp.Message); msg != "" {
			errorMsg += ": " + msg
		}
		return false, errors.New(errorMsg)
	}

	if twilioResp.Status == "failed" || twilioResp.Status == "undelivered" {
		util.Warn("Twilio did not deliver message",
			util.MaskPhone(to),
			zap.String("sid", twilioResp.SID),
			zap.String("status", twilioResp.Status))
		return false, nil
	}

	util.Debug("Twilio message queued",
		util.MaskPhone(to),
		zap.String("sid", twilioResp.SID),
		zap.Bool("whatsapp", t.whatsapp))
	return true, nil
}

// twilioPost submits a form with basic auth and decodes the JSON body into
// out whatever the status code.
func twilioPost(ctx context.Context, httpClient *http.Client, apiURL string, cfg config.TwilioConfig, data url.Values, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func e164(phone string) string {
	return "+" + strings.TrimPrefix(phone, "+")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

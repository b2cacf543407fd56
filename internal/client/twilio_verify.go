package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

// TwilioVerify delegates code generation and checking to Twilio Verify.
// The code never passes through this service.
type TwilioVerify struct {
	httpClient *http.Client
	config     config.TwilioConfig
}

type twilioVerifyResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

func NewTwilioVerify(cfg config.TwilioConfig, timeout time.Duration) *TwilioVerify {
	return &TwilioVerify{httpClient: &http.Client{Timeout: timeout}, config: cfg}
}

func (v *TwilioVerify) serviceURL(resource string) string {
	return fmt.Sprintf("%s/v2/Services/%s/%s",
		strings.TrimRight(v.config.VerifyBaseURL, "/"), v.config.VerifyServiceSID, resource)
}

// Start asks the provider to send a code over channel ("sms", "whatsapp").
func (v *TwilioVerify) Start(ctx context.Context, to, channel string) (bool, error) {
	data := url.Values{}
	data.Set("To", e164(to))
	data.Set("Channel", channel)

	var resp twilioVerifyResponse
	status, err := twilioPost(ctx, v.httpClient, v.serviceURL("Verifications"), v.config, data, &resp)
	if err != nil {
		return false, err
	}
	if status >= http.StatusBadRequest {
		return false, fmt.Errorf("twilio verify error (status %d): %s", status, resp.Message)
	}

	util.Debug("Twilio verification started", util.MaskPhone(to), zap.String("status", resp.Status))
	return resp.Status == "pending", nil
}

// Check reports the provider's verdict. A 404 means the verification
// expired or was already approved, which is a plain rejection.
func (v *TwilioVerify) Check(ctx context.Context, to, code string) (bool, error) {
	data := url.Values{}
	data.Set("To", e164(to))
	data.Set("Code", code)

	var resp twilioVerifyResponse
	status, err := twilioPost(ctx, v.httpClient, v.serviceURL("VerificationCheck"), v.config, data, &resp)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if status >= http.StatusBadRequest {
		return false, fmt.Errorf("twilio verify error (status %d): %s", status, resp.Message)
	}
	return resp.Status == "approved" && resp.Valid, nil
}

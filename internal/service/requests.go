package service

import (
	"strings"
	"time"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/session"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

// RequestMeta carries transport details recorded with audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type SignupRequest struct {
	Phone             string `json:"phone"`
	Country           string `json:"country"`
	PIN               string `json:"pin"`
	BusinessName      string `json:"business_name"`
	BackupEmail       string `json:"backup_email"`
	Code              string `json:"code"`
	DeviceFingerprint string `json:"device_fingerprint"`
	DeviceLabel       string `json:"device_label"`
}

type LoginRequest struct {
	Phone             string `json:"phone"`
	PIN               string `json:"pin"`
	DeviceFingerprint string `json:"device_fingerprint"`
	DeviceLabel       string `json:"device_label"`
}

// Logout scopes.
const (
	ScopeCurrent = "current"
	ScopeOthers  = "others"
	ScopeAll     = "all"
)

// LogoutRequest revokes the caller's current session by default. A
// non-empty SessionID revokes that session instead (revoke-session).
type LogoutRequest struct {
	Scope     string `json:"scope"`
	SessionID string `json:"session_id"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type VerificationRequest struct {
	Identifier string `json:"identifier"`
	Country    string `json:"country"`
	Purpose    string `json:"purpose"`
}

type RecoveryRequest struct {
	Phone string `json:"phone"`
}

type CompleteRecoveryRequest struct {
	Phone          string `json:"phone"`
	PhoneCode      string `json:"phone_code"`
	EmailCode      string `json:"email_code"`
	SecurityAnswer string `json:"security_answer"`
	NewPIN         string `json:"new_pin"`
}

type UserView struct {
	ID           string        `json:"id"`
	Phone        string        `json:"phone"`
	Country      model.Country `json:"country"`
	BusinessName string        `json:"business_name"`
	BackupEmail  string        `json:"backup_email,omitempty"` // masked
	Tier         model.Tier    `json:"tier"`
	CreatedAt    time.Time     `json:"created_at"`
}

type AuthResult struct {
	User             UserView `json:"user"`
	AccessToken      string   `json:"access_token"`
	RefreshToken     string   `json:"refresh_token"`
	SessionID        string   `json:"session_id"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshExpiresIn int64    `json:"refresh_expires_in"`
}

type RefreshResult struct {
	AccessToken string `json:"access_token"`
	SessionID   string `json:"session_id"`
	ExpiresIn   int64  `json:"expires_in"`
}

type SessionView struct {
	ID            string     `json:"id"`
	DeviceLabel   string     `json:"device_label"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	Revoked       bool       `json:"revoked"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	Current       bool       `json:"current"`
}

func newAuthResult(u *model.User, email string, t *session.Tokens) *AuthResult {
	return &AuthResult{
		User:             newUserView(u, email),
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		SessionID:        t.SessionID,
		ExpiresIn:        int64(t.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(t.RefreshTTL.Seconds()),
	}
}

func newUserView(u *model.User, email string) UserView {
	return UserView{
		ID:           u.ID,
		Phone:        u.Phone,
		Country:      u.Country,
		BusinessName: u.BusinessName,
		BackupEmail:  maskEmail(email),
		Tier:         u.Tier,
		CreatedAt:    u.CreatedAt,
	}
}

// maskEmail keeps the first rune of the local part and the domain.
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return ""
	}
	return string([]rune(local)[0]) + "***@" + domain
}

func parsePhone(raw string) (string, error) {
	phone := util.NormalizePhone(raw)
	if !util.IsValidPhone(phone) {
		return "", apperr.Validation("invalid phone number")
	}
	return phone, nil
}

func parsePhoneCountry(rawPhone, rawCountry string) (string, model.Country, error) {
	phone, err := parsePhone(rawPhone)
	if err != nil {
		return "", "", err
	}
	country, ok := model.ParseCountry(rawCountry)
	if !ok {
		return "", "", apperr.Validation("unsupported country")
	}
	if !country.OwnsPhone(phone) {
		return "", "", apperr.Validation("phone number does not match country")
	}
	return phone, country, nil
}

func validatePIN(pin string) error {
	if !util.IsSixDigits(pin) {
		return apperr.Validation("PIN must be exactly 6 digits")
	}
	return nil
}

// validateCode rejects anything that is not shaped like a one-time code
// before a stored code is looked up or consumed.
func validateCode(field, code string) error {
	if !util.IsSixDigits(code) {
		return apperr.Validation(field + " must be exactly 6 digits")
	}
	return nil
}

func validateBusinessName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 120 || !util.HasLetterOrDigit(name) {
		return "", apperr.Validation("business name is required")
	}
	if util.ContainsSuspicious(name) {
		return "", apperr.Validation("business name contains invalid characters")
	}
	return name, nil
}

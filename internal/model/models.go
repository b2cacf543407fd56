package model

import (
	"strings"
	"time"
)

// -------------------- ENUMS --------------------

type Country string

const (
	CountryKE Country = "KE"
	CountryNG Country = "NG"
	CountryZA Country = "ZA"
	CountryGH Country = "GH"
	CountryUG Country = "UG"
)

var dialPrefixes = map[Country]string{
	CountryKE: "254",
	CountryNG: "234",
	CountryZA: "27",
	CountryGH: "233",
	CountryUG: "256",
}

// ParseCountry accepts any casing of a supported ISO code.
func ParseCountry(s string) (Country, bool) {
	c := Country(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := dialPrefixes[c]
	return c, ok
}

func (c Country) Valid() bool {
	_, ok := dialPrefixes[c]
	return ok
}

// DialPrefix is the international calling code without the plus sign.
func (c Country) DialPrefix() string {
	return dialPrefixes[c]
}

// OwnsPhone reports whether a normalized phone number starts with the
// country's calling code.
func (c Country) OwnsPhone(phone string) bool {
	p := c.DialPrefix()
	return p != "" && strings.HasPrefix(phone, p)
}

type Purpose string

const (
	PurposeSignup   Purpose = "signup"
	PurposeRecovery Purpose = "recovery"
)

func (p Purpose) Valid() bool {
	return p == PurposeSignup || p == PurposeRecovery
}

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelExternal Channel = "external"
)

type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

func (t Tier) rank() int {
	switch t {
	case TierPro:
		return 1
	case TierBusiness:
		return 2
	default:
		return 0
	}
}

// Allows reports whether t grants access to features gated at required.
func (t Tier) Allows(required Tier) bool {
	return t.rank() >= required.rank()
}

type EventType string

const (
	EventSignupSuccess      EventType = "signup_success"
	EventSignupFailed       EventType = "signup_failed"
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailed        EventType = "login_failed"
	EventPINReset           EventType = "pin_reset"
	EventAccountLocked      EventType = "account_locked"
	EventSessionRevoked     EventType = "session_revoked"
	EventVerificationSent   EventType = "verification_sent"
	EventVerificationFailed EventType = "verification_failed"
)

type RecoveryState string

const (
	RecoveryNotStarted     RecoveryState = "not_started"
	RecoveryCodesRequested RecoveryState = "codes_requested"
	RecoveryCodesVerified  RecoveryState = "codes_verified"
	RecoveryCompleted      RecoveryState = "completed"
)

// Revocation reasons written to sessions.revoked_reason.
const (
	RevokeReasonLogout     = "logout"
	RevokeReasonLogoutAll  = "logout_all"
	RevokeReasonOthers     = "logout_other_devices"
	RevokeReasonSuperseded = "superseded"
	RevokeReasonPINReset   = "pin_reset"
	RevokeReasonAdmin      = "admin_kill"
)

// -------------------- USER MODEL --------------------
type User struct {
	ID                 string    `json:"id" db:"id"`
	Phone              string    `json:"phone" db:"phone"`     // digits only, no '+'
	Country            Country   `json:"country" db:"country"` // KE, NG, ZA, GH, UG
	PINHash            string    `json:"-" db:"pin_hash"`      // argon2id PHC string
	BusinessName       string    `json:"business_name" db:"business_name"`
	BackupEmailEnc     string    `json:"-" db:"backup_email_enc"` // envelope-encrypted
	SecurityAnswerHash string    `json:"-" db:"security_answer_hash"`
	Tier               Tier      `json:"tier" db:"tier"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// -------------------- SESSION MODEL --------------------
type Session struct {
	ID                string     `json:"id" db:"id"`
	UserID            string     `json:"user_id" db:"user_id"`
	RefreshHash       string     `json:"-" db:"refresh_hash"`
	DeviceFingerprint string     `json:"device_fingerprint" db:"device_fingerprint"`
	DeviceLabel       string     `json:"device_label" db:"device_label"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at" db:"expires_at"`
	Revoked           bool       `json:"revoked" db:"revoked"`
	RevokedReason     string     `json:"revoked_reason,omitempty" db:"revoked_reason"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Active is the validity rule every access check enforces.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// -------------------- VERIFICATION CODE MODEL --------------------
type VerificationCode struct {
	ID         string     `json:"id" db:"id"`
	Identifier string     `json:"identifier" db:"identifier"` // normalized phone or email
	Purpose    Purpose    `json:"purpose" db:"purpose"`
	Code       string     `json:"-" db:"code"` // empty when the provider holds the code
	Channel    Channel    `json:"channel" db:"channel"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	Used       bool       `json:"used" db:"used"`
	UsedAt     *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

func (v *VerificationCode) Usable(now time.Time) bool {
	return !v.Used && now.Before(v.ExpiresAt)
}

// -------------------- AUDIT EVENT MODEL --------------------
type AuditEvent struct {
	ID        string            `json:"id" db:"id"`
	Type      EventType         `json:"event_type" db:"event_type"`
	UserID    string            `json:"user_id,omitempty" db:"user_id"`
	Phone     string            `json:"phone,omitempty" db:"phone"`
	IP        string            `json:"ip,omitempty" db:"ip"`
	UserAgent string            `json:"user_agent,omitempty" db:"user_agent"`
	Country   string            `json:"country,omitempty" db:"country"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

package verification

import (
	"context"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

// Transport delivers a message. delivered=false with a nil error means the
// provider accepted the request but refused the recipient.
type Transport interface {
	Send(ctx context.Context, to, message string) (delivered bool, err error)
}

// VerifyProvider generates, delivers and checks codes on its own side.
type VerifyProvider interface {
	Start(ctx context.Context, to, channel string) (bool, error)
	Check(ctx context.Context, to, code string) (bool, error)
}

type Strategy int

const (
	StrategyLocalSMS Strategy = iota + 1
	StrategyLocalWhatsApp
	StrategyLocalEmail
	StrategyExternalVerify
)

func (s Strategy) String() string {
	switch s {
	case StrategyLocalSMS:
		return "local_sms"
	case StrategyLocalWhatsApp:
		return "local_whatsapp"
	case StrategyLocalEmail:
		return "local_email"
	case StrategyExternalVerify:
		return "external_verify"
	default:
		return "unknown"
	}
}

// Route is how codes reach one country. For StrategyExternalVerify,
// Transport is the fallback used when a locally generated code must be
// sent (shared recovery codes).
type Route struct {
	Strategy  Strategy
	Transport Transport
}

func (r Route) channel() model.Channel {
	switch r.Strategy {
	case StrategyLocalWhatsApp:
		return model.ChannelWhatsApp
	case StrategyLocalEmail:
		return model.ChannelEmail
	case StrategyExternalVerify:
		return model.ChannelExternal
	default:
		return model.ChannelSMS
	}
}

type CountryRoutes map[model.Country]Route

// DefaultRoutes is the production routing table.
func DefaultRoutes(africasTalkingSMS, twilioSMS, twilioWhatsApp Transport) CountryRoutes {
	return CountryRoutes{
		model.CountryKE: {Strategy: StrategyLocalSMS, Transport: africasTalkingSMS},
		model.CountryUG: {Strategy: StrategyLocalSMS, Transport: africasTalkingSMS},
		model.CountryGH: {Strategy: StrategyLocalSMS, Transport: twilioSMS},
		model.CountryZA: {Strategy: StrategyLocalWhatsApp, Transport: twilioWhatsApp},
		model.CountryNG: {Strategy: StrategyExternalVerify, Transport: twilioSMS},
	}
}

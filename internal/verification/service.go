// Package verification issues and checks one-time codes. Codes are either
// generated here and delivered over a country transport, or held by an
// external verify provider; in both cases a row in the datastore records
// purpose, expiry and single use.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/util"
)

var errNotDelivered = errors.New("provider did not accept the message")

// Auditor is satisfied by audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, event model.AuditEvent)
}

// Target is one destination of a shared code. Country is ignored for
// email identifiers.
type Target struct {
	Identifier string
	Country    model.Country
}

type Service struct {
	codes    model.VerificationCodeRepository
	routes   CountryRoutes
	email    Transport
	provider VerifyProvider
	auditor  Auditor
	cfg      config.VerificationConfig
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(
	cfg config.VerificationConfig,
	codes model.VerificationCodeRepository,
	routes CountryRoutes,
	email Transport,
	provider VerifyProvider,
	auditor Auditor,
	logger *zap.Logger,
) *Service {
	return &Service{
		codes:    codes,
		routes:   routes,
		email:    email,
		provider: provider,
		auditor:  auditor,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// RequestCode sends a fresh code for purpose to identifier. Earlier unused
// codes stay in the table. CheckCode only looks at the newest unconsumed,
// unexpired row, so once the newest code is used an older live code becomes
// the one that validates.
func (s *Service) RequestCode(ctx context.Context, identifier string, purpose model.Purpose, country model.Country) (bool, error) {
	if !purpose.Valid() {
		return false, apperr.Validation("invalid purpose")
	}
	identifier, route, err := s.resolve(identifier, country)
	if err != nil {
		return false, err
	}

	if s.isTestIdentifier(identifier) {
		s.logger.Info("Skipping dispatch for test identifier", zap.String("purpose", string(purpose)))
		return true, nil
	}

	now := s.now().UTC()
	record := &model.VerificationCode{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Purpose:    purpose,
		Channel:    route.channel(),
		ExpiresAt:  now.Add(s.cfg.CodeTTL),
		CreatedAt:  now,
	}

	if route.Strategy == StrategyExternalVerify {
		started, err := s.provider.Start(ctx, identifier, string(model.ChannelSMS))
		if err == nil && !started {
			err = errNotDelivered
		}
		if err != nil {
			s.dispatchFailed(ctx, identifier, purpose, route, err)
			return false, apperr.DependencyMsg("failed to send verification code", err)
		}
		if err := s.codes.CreateCode(ctx, record); err != nil {
			return false, apperr.Dependency(err)
		}
		s.dispatched(ctx, identifier, purpose, route)
		return true, nil
	}

	code, err := generateCode()
	if err != nil {
		return false, apperr.Dependency(err)
	}
	record.Code = code
	if err := s.codes.CreateCode(ctx, record); err != nil {
		return false, apperr.Dependency(err)
	}
	if err := s.send(ctx, route.Transport, identifier, s.message(code, purpose)); err != nil {
		s.dispatchFailed(ctx, identifier, purpose, route, err)
		return false, apperr.DependencyMsg("failed to send verification code", err)
	}
	s.dispatched(ctx, identifier, purpose, route)
	return true, nil
}

// CheckCode validates and consumes the newest code for (identifier,
// purpose). A wrong, stale, expired or already used code returns false with
// a nil error; errors are reserved for infrastructure failures.
func (s *Service) CheckCode(ctx context.Context, identifier, code string, purpose model.Purpose, country model.Country) (bool, error) {
	if !purpose.Valid() {
		return false, apperr.Validation("invalid purpose")
	}
	if country != "" && !country.Valid() {
		return false, apperr.Validation("unsupported country")
	}
	identifier = normalizeIdentifier(identifier)
	if !util.IsSixDigits(code) {
		return false, nil
	}

	if s.isTestIdentifier(identifier) && s.cfg.BypassCode != "" &&
		subtle.ConstantTimeCompare([]byte(code), []byte(s.cfg.BypassCode)) == 1 {
		s.logger.Warn("Verification bypass code accepted", zap.String("purpose", string(purpose)))
		return true, nil
	}

	now := s.now().UTC()
	record, err := s.codes.GetLatestActiveCode(ctx, identifier, purpose, now)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, apperr.Dependency(err)
	}

	if record.Channel == model.ChannelExternal {
		if s.provider == nil {
			return false, apperr.Dependency(errors.New("no verify provider configured"))
		}
		approved, err := s.provider.Check(ctx, identifier, code)
		if err != nil {
			return false, apperr.Dependency(err)
		}
		if !approved {
			return false, nil
		}
	} else if subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) != 1 {
		return false, nil
	}

	consumed, err := s.codes.ConsumeCode(ctx, record, now)
	if err != nil {
		return false, apperr.Dependency(err)
	}
	return consumed, nil
}

// IssueSharedCode generates one code and delivers it to every target
// concurrently. Each target gets its own record so each can be consumed
// independently. Provider-held routes fall back to their local transport.
func (s *Service) IssueSharedCode(ctx context.Context, purpose model.Purpose, targets ...Target) error {
	if !purpose.Valid() {
		return apperr.Validation("invalid purpose")
	}
	code, err := generateCode()
	if err != nil {
		return apperr.Dependency(err)
	}

	type delivery struct {
		identifier string
		route      Route
	}
	now := s.now().UTC()
	deliveries := make([]delivery, 0, len(targets))
	for _, t := range targets {
		identifier, route, err := s.resolve(t.Identifier, t.Country)
		if err != nil {
			return err
		}
		if route.Strategy == StrategyExternalVerify {
			route = Route{Strategy: StrategyLocalSMS, Transport: route.Transport}
		}
		if err := s.codes.CreateCode(ctx, &model.VerificationCode{
			ID:         uuid.NewString(),
			Identifier: identifier,
			Purpose:    purpose,
			Code:       code,
			Channel:    route.channel(),
			ExpiresAt:  now.Add(s.cfg.CodeTTL),
			CreatedAt:  now,
		}); err != nil {
			return apperr.Dependency(err)
		}
		deliveries = append(deliveries, delivery{identifier: identifier, route: route})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range deliveries {
		g.Go(func() error {
			if err := s.send(gctx, d.route.Transport, d.identifier, s.message(code, purpose)); err != nil {
				s.dispatchFailed(ctx, d.identifier, purpose, d.route, err)
				return err
			}
			s.dispatched(ctx, d.identifier, purpose, d.route)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return apperr.DependencyMsg("failed to send verification code", err)
	}
	return nil
}

// resolve normalizes identifier and picks its route.
func (s *Service) resolve(identifier string, country model.Country) (string, Route, error) {
	if util.IsEmail(identifier) {
		email, ok := util.NormalizeEmail(identifier)
		if !ok {
			return "", Route{}, apperr.Validation("invalid email address")
		}
		return email, Route{Strategy: StrategyLocalEmail, Transport: s.email}, nil
	}

	phone := util.NormalizePhone(identifier)
	if !util.IsValidPhone(phone) {
		return "", Route{}, apperr.Validation("invalid phone number")
	}
	if !country.Valid() {
		return "", Route{}, apperr.Validation("unsupported country")
	}
	if !country.OwnsPhone(phone) {
		return "", Route{}, apperr.Validation("phone number does not match country")
	}
	route, ok := s.routes[country]
	if !ok {
		return "", Route{}, apperr.Validation("unsupported country")
	}
	if route.Strategy == StrategyExternalVerify && s.provider == nil {
		route.Strategy = StrategyLocalSMS
	}
	return phone, route, nil
}

func (s *Service) send(ctx context.Context, transport Transport, to, message string) error {
	if transport == nil {
		return errors.New("no transport configured")
	}
	delivered, err := transport.Send(ctx, to, message)
	if err != nil {
		return err
	}
	if !delivered {
		return errNotDelivered
	}
	return nil
}

func (s *Service) isTestIdentifier(identifier string) bool {
	return s.cfg.TestMode && s.cfg.IsTestIdentifier(identifier)
}

func (s *Service) message(code string, purpose model.Purpose) string {
	minutes := int(s.cfg.CodeTTL.Minutes())
	if purpose == model.PurposeRecovery {
		return fmt.Sprintf("Your account recovery code is %s. It expires in %d minutes. Never share it.", code, minutes)
	}
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)
}

func (s *Service) dispatched(ctx context.Context, identifier string, purpose model.Purpose, route Route) {
	s.auditor.Record(ctx, s.event(model.EventVerificationSent, identifier, purpose, route, nil))
}

func (s *Service) dispatchFailed(ctx context.Context, identifier string, purpose model.Purpose, route Route, cause error) {
	s.logger.Error("Verification dispatch failed",
		zap.String("strategy", route.Strategy.String()),
		zap.String("purpose", string(purpose)),
		zap.Error(cause))
	s.auditor.Record(ctx, s.event(model.EventVerificationFailed, identifier, purpose, route, cause))
}

func (s *Service) event(typ model.EventType, identifier string, purpose model.Purpose, route Route, cause error) model.AuditEvent {
	event := model.AuditEvent{
		Type: typ,
		Metadata: map[string]string{
			"purpose":  string(purpose),
			"strategy": route.Strategy.String(),
			"channel":  string(route.channel()),
		},
	}
	if route.Strategy == StrategyLocalEmail {
		event.Metadata["email"] = identifier
	} else {
		event.Phone = identifier
	}
	if cause != nil {
		event.Metadata["error"] = cause.Error()
	}
	return event
}

func normalizeIdentifier(identifier string) string {
	if util.IsEmail(identifier) {
		if email, ok := util.NormalizeEmail(identifier); ok {
			return email
		}
		return identifier
	}
	return util.NormalizePhone(identifier)
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

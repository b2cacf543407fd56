package service

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/apperr"
	"github.com/zwoods58/WebApp-sub006/internal/hashing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/session"
	"github.com/zwoods58/WebApp-sub006/internal/util"
	"github.com/zwoods58/WebApp-sub006/internal/verification"
)

// RequestRecovery sends one recovery code to both the phone and the backup
// email on file, and moves the phone's recovery state to CodesRequested.
func (s *AuthService) RequestRecovery(ctx context.Context, req RecoveryRequest, meta RequestMeta) error {
	phone, err := parsePhone(req.Phone)
	if err != nil {
		return err
	}
	user, err := s.users.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		return apperr.Dependency(err)
	}
	if user.BackupEmailEnc == "" {
		return apperr.Validation("no backup email on file")
	}
	email, err := s.encryptor.DecryptString(ctx, user.BackupEmailEnc, backupEmailPurpose)
	if err != nil {
		return apperr.Dependency(err)
	}

	if err := s.verifier.IssueSharedCode(ctx, model.PurposeRecovery,
		verification.Target{Identifier: phone, Country: user.Country},
		verification.Target{Identifier: email},
	); err != nil {
		return err
	}

	if err := s.recovery.SetRecoveryState(ctx, phone, model.RecoveryCodesRequested, s.cfg.CodeTTL); err != nil {
		return apperr.Dependency(err)
	}
	s.logger.Info("Recovery codes issued", util.UserID(user.ID), util.MaskPhone(phone))
	return nil
}

// CompleteRecovery checks the security answer and both codes, then swaps the
// PIN hash and kills every session. Any failed factor sends the flow back to
// NotStarted; consumed codes stay consumed. No session is created.
func (s *AuthService) CompleteRecovery(ctx context.Context, req CompleteRecoveryRequest, meta RequestMeta) error {
	phone, err := parsePhone(req.Phone)
	if err != nil {
		return err
	}
	if err := validatePIN(req.NewPIN); err != nil {
		return err
	}
	if err := validateCode("phone_code", req.PhoneCode); err != nil {
		return err
	}
	if err := validateCode("email_code", req.EmailCode); err != nil {
		return err
	}

	state, err := s.recovery.GetRecoveryState(ctx, phone)
	if err != nil {
		return apperr.Dependency(err)
	}
	if state != model.RecoveryCodesRequested {
		return apperr.Validation("no recovery in progress for this phone number")
	}

	user, err := s.users.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return s.abortRecovery(ctx, meta, phone, nil, "unknown_user")
		}
		return apperr.Dependency(err)
	}

	if !hashing.VerifySecurityAnswer(user.SecurityAnswerHash, req.SecurityAnswer) {
		return s.abortRecovery(ctx, meta, phone, user, "security_answer")
	}

	ok, err := s.verifier.CheckCode(ctx, phone, req.PhoneCode, model.PurposeRecovery, user.Country)
	if err != nil {
		s.resetRecovery(ctx, phone)
		return err
	}
	if !ok {
		return s.abortRecovery(ctx, meta, phone, user, "phone_code")
	}

	email, err := s.encryptor.DecryptString(ctx, user.BackupEmailEnc, backupEmailPurpose)
	if err != nil {
		s.resetRecovery(ctx, phone)
		return apperr.Dependency(err)
	}
	ok, err = s.verifier.CheckCode(ctx, email, req.EmailCode, model.PurposeRecovery, "")
	if err != nil {
		s.resetRecovery(ctx, phone)
		return err
	}
	if !ok {
		return s.abortRecovery(ctx, meta, phone, user, "email_code")
	}

	if err := s.recovery.SetRecoveryState(ctx, phone, model.RecoveryCodesVerified, s.cfg.CodeTTL); err != nil {
		return apperr.Dependency(err)
	}

	newHash, err := s.hasher.HashPIN(req.NewPIN)
	if err != nil {
		s.resetRecovery(ctx, phone)
		return apperr.Dependency(err)
	}
	swapped, err := s.users.UpdatePINHash(ctx, user.ID, user.PINHash, newHash, s.now().UTC())
	if err != nil {
		s.resetRecovery(ctx, phone)
		return apperr.Dependency(err)
	}
	if !swapped {
		return s.abortRecovery(ctx, meta, phone, user, "pin_changed_concurrently")
	}

	revoked, err := s.sessions.Revoke(ctx, user.ID, session.RevokeOptions{Reason: model.RevokeReasonPINReset})
	if err != nil {
		// the PIN is already changed; the flow still completes
		s.logger.Error("Failed to revoke sessions after PIN reset", util.UserID(user.ID), zap.Error(err))
	}

	s.audit(ctx, meta, model.EventPINReset, user.ID, phone, user.Country, map[string]string{
		"revoked_sessions": strconv.FormatInt(revoked, 10),
	})
	if err := s.recovery.ClearRecoveryState(ctx, phone); err != nil {
		s.logger.Warn("Failed to clear recovery state", util.MaskPhone(phone), zap.Error(err))
	}
	s.logger.Info("PIN reset completed", util.UserID(user.ID), zap.Int64("revoked_sessions", revoked))
	return nil
}

// abortRecovery resets the flow and returns the generic credential error.
// The failed factor is only written to the audit trail.
func (s *AuthService) abortRecovery(ctx context.Context, meta RequestMeta, phone string, user *model.User, factor string) error {
	s.resetRecovery(ctx, phone)
	var userID string
	var country model.Country
	if user != nil {
		userID, country = user.ID, user.Country
	}
	s.audit(ctx, meta, model.EventVerificationFailed, userID, phone, country, map[string]string{
		"flow":   "recovery",
		"factor": factor,
	})
	return apperr.ErrInvalidCredentials
}

func (s *AuthService) resetRecovery(ctx context.Context, phone string) {
	if err := s.recovery.ClearRecoveryState(ctx, phone); err != nil {
		s.logger.Warn("Failed to reset recovery state", util.MaskPhone(phone), zap.Error(err))
	}
}

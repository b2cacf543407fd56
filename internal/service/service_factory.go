package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/config"
	"github.com/zwoods58/WebApp-sub006/internal/encryption"
	"github.com/zwoods58/WebApp-sub006/internal/hashing"
	"github.com/zwoods58/WebApp-sub006/internal/model"
	"github.com/zwoods58/WebApp-sub006/internal/session"
	"github.com/zwoods58/WebApp-sub006/internal/verification"
)

// ServiceFactory holds the shared dependencies and hands out service
// instances.
type ServiceFactory struct {
	store     model.Store
	hasher    *hashing.Hasher
	sessions  *session.Manager
	verifier  *verification.Service
	recovery  model.RecoveryStateStore
	encryptor *encryption.EncryptionManager
	auditor   verification.Auditor
	cfg       config.VerificationConfig
	logger    *zap.Logger

	once        sync.Once
	authService *AuthService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	store model.Store,
	hasher *hashing.Hasher,
	sessions *session.Manager,
	verifier *verification.Service,
	recovery model.RecoveryStateStore,
	encryptor *encryption.EncryptionManager,
	auditor verification.Auditor,
	cfg config.VerificationConfig,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		store:     store,
		hasher:    hasher,
		sessions:  sessions,
		verifier:  verifier,
		recovery:  recovery,
		encryptor: encryptor,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger,
	}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	f.once.Do(func() {
		f.authService = NewAuthService(
			f.store,
			f.hasher,
			f.sessions,
			f.verifier,
			f.recovery,
			f.encryptor,
			f.auditor,
			f.cfg,
			f.logger,
		)
	})
	return f.authService
}

// Cleanup releases cached key material.
func (f *ServiceFactory) Cleanup() {
	if f.encryptor != nil {
		f.encryptor.ClearCache()
	}
}

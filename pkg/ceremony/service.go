// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package ceremony

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passkey/pkg/logging"
)

// Service orchestrates registration and authentication ceremonies. It owns
// challenge issuance, pending state, credential matching, and counter
// policy; cryptographic validation is delegated to the Verifier.
type Service struct {
	config     *Config
	states     StateStore
	creds      CredentialRepository
	users      UserDirectory
	verifier   Verifier
	tokens     TokenGenerator // optional
	logger     *logging.Logger
	configured bool
}

// ServiceParams contains dependencies for creating a ceremony service.
type ServiceParams struct {
	// Config is the ceremony configuration (required).
	Config *Config

	// StateStore holds pending ceremony state (required).
	StateStore StateStore

	// CredentialRepository is the credential persistence layer (required).
	CredentialRepository CredentialRepository

	// UserDirectory is the external account system (required).
	UserDirectory UserDirectory

	// Verifier validates attestation and assertion responses (required).
	Verifier Verifier

	// TokenGenerator is an optional token generator for post-auth tokens.
	// If nil, the service returns the base64-encoded user handle after auth.
	TokenGenerator TokenGenerator

	// Logger is optional; a default stderr logger is used when nil.
	Logger *logging.Logger
}

// NewService creates a ceremony service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.StateStore == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if params.CredentialRepository == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if params.UserDirectory == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &Service{
		config:     params.Config,
		states:     params.StateStore,
		creds:      params.CredentialRepository,
		users:      params.UserDirectory,
		verifier:   params.Verifier,
		tokens:     params.TokenGenerator,
		logger:     logger,
		configured: true,
	}, nil
}

// BeginRegistration starts a registration ceremony for an existing user.
// The returned options carry a fresh challenge, the user's current
// credentials as an exclude list, and the RP identity bound to the caller's
// effective domain. Any prior pending registration for the session is
// superseded.
func (s *Service) BeginRegistration(ctx context.Context, sessionKey, domain, userID, label string) (*protocol.CredentialCreation, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, WrapError("begin registration", err)
	}

	existing, err := s.creds.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, WrapError("list credentials", err)
	}
	exclude := make([]protocol.CredentialDescriptor, len(existing))
	for i, cred := range existing {
		exclude[i] = cred.Descriptor()
	}

	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}

	rp := s.config.RelyingParty(domain)
	options := &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: protocol.URLEncodedBase64(challenge),
			RelyingParty: protocol.RelyingPartyEntity{
				CredentialEntity: protocol.CredentialEntity{Name: rp.Name},
				ID:               rp.ID,
			},
			User: protocol.UserEntity{
				CredentialEntity: protocol.CredentialEntity{Name: user.Name},
				DisplayName:      user.DisplayName,
				ID:               protocol.URLEncodedBase64(user.Handle),
			},
			Parameters:             s.config.credentialParameters(),
			Timeout:                int(s.config.Timeout.Milliseconds()),
			CredentialExcludeList:  exclude,
			AuthenticatorSelection: s.config.authenticatorSelection(),
			Attestation:            s.config.attestation(),
		},
	}

	now := time.Now().UTC()
	state := &State{
		Kind:      KindRegistration,
		Challenge: challenge,
		UserID:    user.ID,
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.StateTTL),
	}
	if err := s.states.Put(ctx, sessionKey, KindRegistration, state); err != nil {
		return nil, WrapError("store registration state", err)
	}

	CeremoniesBegun.WithLabelValues(string(KindRegistration)).Inc()
	return options, nil
}

// FinishRegistration completes a registration ceremony. The pending state is
// consumed before validation, so a rejected response cannot be retried
// against the same challenge. The enrolled credential is bound to the user
// recorded at begin time, never to identifiers in the response.
func (s *Service) FinishRegistration(ctx context.Context, sessionKey, domain string, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	cred, err := s.finishRegistration(ctx, sessionKey, domain, response)
	if err != nil {
		recordRejection(KindRegistration, err)
		return nil, err
	}

	CeremoniesCompleted.WithLabelValues(string(KindRegistration)).Inc()
	return cred, nil
}

func (s *Service) finishRegistration(ctx context.Context, sessionKey, domain string, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	state, err := s.states.TakeAndClear(ctx, sessionKey, KindRegistration)
	if err != nil {
		return nil, WrapError("take registration state", err)
	}

	user, err := s.users.FindByID(ctx, state.UserID)
	if err != nil {
		return nil, WrapError("finish registration", err)
	}

	rp := s.config.RelyingParty(domain)
	cred, err := s.verifier.VerifyRegistration(rp, state, user, response)
	if err != nil {
		return nil, err
	}

	cred.UserID = user.ID
	cred.UserHandle = user.Handle
	cred.Label = state.Label

	if err := s.creds.Insert(ctx, cred); err != nil {
		return nil, WrapError("store credential", err)
	}

	s.logger.Debugf("registered credential %s for user %s",
		encodeBase64URL(cred.ID), user.ID)
	return cred, nil
}

// BeginAuthentication starts an authentication ceremony. With a userID the
// options carry an allow list of that user's credentials; with an empty
// userID the allow list is empty and the authenticator chooses a
// discoverable credential. Any prior pending authentication for the session
// is superseded.
func (s *Service) BeginAuthentication(ctx context.Context, sessionKey, domain, userID string) (*protocol.CredentialAssertion, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}

	var allowed []protocol.CredentialDescriptor
	if userID != "" {
		user, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return nil, WrapError("begin authentication", err)
		}
		creds, err := s.creds.ListByUser(ctx, user.ID)
		if err != nil {
			return nil, WrapError("list credentials", err)
		}
		if len(creds) == 0 {
			return nil, NewError("begin authentication", ErrNoCredentials)
		}
		allowed = make([]protocol.CredentialDescriptor, len(creds))
		for i, cred := range creds {
			allowed[i] = cred.Descriptor()
		}
	}

	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}

	rp := s.config.RelyingParty(domain)
	options := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          protocol.URLEncodedBase64(challenge),
			Timeout:            int(s.config.Timeout.Milliseconds()),
			RelyingPartyID:     rp.ID,
			AllowedCredentials: allowed,
			UserVerification:   s.config.userVerification(),
		},
	}

	now := time.Now().UTC()
	state := &State{
		Kind:      KindAuthentication,
		Challenge: challenge,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.StateTTL),
	}
	if err := s.states.Put(ctx, sessionKey, KindAuthentication, state); err != nil {
		return nil, WrapError("store authentication state", err)
	}

	CeremoniesBegun.WithLabelValues(string(KindAuthentication)).Inc()
	return options, nil
}

// FinishAuthentication completes an authentication ceremony and returns a
// token plus the authenticated user. The pending state is consumed before
// validation. Authentication is granted only after the credential's counter
// has been durably advanced; a counter regression or a raced update rejects
// with ErrCloneSuspected and leaves the stored credential unchanged.
func (s *Service) FinishAuthentication(ctx context.Context, sessionKey, domain string, response *protocol.ParsedCredentialAssertionData) (string, *User, error) {
	if !s.configured {
		return "", nil, ErrNotConfigured
	}

	token, user, err := s.finishAuthentication(ctx, sessionKey, domain, response)
	if err != nil {
		recordRejection(KindAuthentication, err)
		return "", nil, err
	}

	CeremoniesCompleted.WithLabelValues(string(KindAuthentication)).Inc()
	return token, user, nil
}

func (s *Service) finishAuthentication(ctx context.Context, sessionKey, domain string, response *protocol.ParsedCredentialAssertionData) (string, *User, error) {
	state, err := s.states.TakeAndClear(ctx, sessionKey, KindAuthentication)
	if err != nil {
		return "", nil, WrapError("take authentication state", err)
	}

	user, err := s.resolveUser(ctx, state, response)
	if err != nil {
		return "", nil, err
	}

	candidates, err := s.creds.ListByUser(ctx, user.ID)
	if err != nil {
		return "", nil, WrapError("list credentials", err)
	}

	matched, err := MatchCredential(response.RawID, candidates)
	if err != nil {
		return "", nil, err
	}

	// The candidate set is already scoped to the user, but ownership is an
	// invariant worth checking against repository drift.
	if matched.UserID != user.ID {
		return "", nil, NewError("verify ownership", ErrNotAuthorized)
	}
	if handle := response.Response.UserHandle; len(handle) > 0 && !bytes.Equal(handle, user.Handle) {
		return "", nil, NewError("verify user handle", ErrNotAuthorized)
	}

	rp := s.config.RelyingParty(domain)
	presented, err := s.verifier.VerifyAssertion(rp, state, user, matched, response)
	if err != nil {
		return "", nil, err
	}

	if err := CheckCounter(matched.SignCount, presented); err != nil {
		s.logger.Warnf("counter regression for credential %s: stored=%d presented=%d",
			encodeBase64URL(matched.ID), matched.SignCount, presented)
		return "", nil, err
	}

	// Commit the counter before granting authentication. A failed
	// compare-and-set means another assertion raced this one, which is
	// treated the same as a replay.
	if err := s.creds.UpdateCounter(ctx, matched.ID, matched.SignCount, presented); err != nil {
		if IsCloneSuspected(err) {
			s.logger.Warnf("concurrent counter update for credential %s",
				encodeBase64URL(matched.ID))
		}
		return "", nil, WrapError("update counter", err)
	}

	token, err := s.generateToken(ctx, user)
	if err != nil {
		return "", nil, WrapError("generate token", err)
	}
	return token, user, nil
}

// resolveUser determines the authenticating account. An identified ceremony
// pinned the user at begin time; a discoverable ceremony resolves it from
// the asserted user handle.
func (s *Service) resolveUser(ctx context.Context, state *State, response *protocol.ParsedCredentialAssertionData) (*User, error) {
	if state.UserID != "" {
		user, err := s.users.FindByID(ctx, state.UserID)
		if err != nil {
			return nil, WrapError("resolve user", err)
		}
		return user, nil
	}

	handle := response.Response.UserHandle
	if len(handle) == 0 {
		return nil, NewError("resolve user handle", ErrUserNotFound)
	}
	user, err := s.users.FindByHandle(ctx, handle)
	if err != nil {
		return nil, WrapError("resolve user handle", err)
	}
	return user, nil
}

// ListCredentials returns all credentials owned by the user.
func (s *Service) ListCredentials(ctx context.Context, userID string) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.creds.ListByUser(ctx, userID)
}

// DeleteCredential removes one of the caller's credentials. A credential
// that does not exist and one owned by another user produce the same
// ErrCredentialNotFound, so deletion leaks nothing about other accounts.
func (s *Service) DeleteCredential(ctx context.Context, userID string, credentialID []byte) error {
	if !s.configured {
		return ErrNotConfigured
	}

	deleted, err := s.creds.DeleteOwned(ctx, credentialID, userID)
	if err != nil {
		return WrapError("delete credential", err)
	}
	if !deleted {
		return NewError("delete credential", ErrCredentialNotFound)
	}
	return nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// generateToken creates a token for the authenticated user.
func (s *Service) generateToken(ctx context.Context, user *User) (string, error) {
	if s.tokens != nil {
		return s.tokens.GenerateToken(ctx, user)
	}
	// Default: return the base64-encoded user handle.
	return encodeBase64URL(user.Handle), nil
}

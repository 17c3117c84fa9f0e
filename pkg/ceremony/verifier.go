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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// WebAuthnVerifier is the production Verifier, delegating attestation and
// assertion validation to github.com/go-webauthn/webauthn. Because the RP
// identity binds at request time, library instances are cached per relying
// party rather than constructed once.
type WebAuthnVerifier struct {
	cfg *Config

	mu        sync.Mutex
	instances map[string]*webauthn.WebAuthn
}

// NewWebAuthnVerifier creates a verifier for the given ceremony
// configuration.
func NewWebAuthnVerifier(cfg *Config) *WebAuthnVerifier {
	return &WebAuthnVerifier{
		cfg:       cfg,
		instances: make(map[string]*webauthn.WebAuthn),
	}
}

// instance returns the library handle for a relying party identity.
func (v *WebAuthnVerifier) instance(rp RelyingParty) (*webauthn.WebAuthn, error) {
	key := rp.ID + "|" + strings.Join(rp.Origins, ",")

	v.mu.Lock()
	defer v.mu.Unlock()

	if wa, ok := v.instances[key]; ok {
		return wa, nil
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          rp.ID,
		RPDisplayName: rp.Name,
		RPOrigins:     rp.Origins,
	})
	if err != nil {
		return nil, WrapError("create verifier instance", err)
	}
	v.instances[key] = wa
	return wa, nil
}

// session synthesizes the library's session representation from pending
// ceremony state. The state store already enforced single consumption and
// expiry; the expiry is passed through so the library agrees.
func (v *WebAuthnVerifier) session(state *State, userHandle []byte) webauthn.SessionData {
	return webauthn.SessionData{
		Challenge:        state.Challenge.String(),
		UserID:           userHandle,
		Expires:          state.ExpiresAt,
		UserVerification: v.cfg.userVerification(),
		CredParams:       v.cfg.credentialParameters(),
	}
}

// VerifyRegistration validates an attestation response and returns the
// parsed credential. Ownership fields (user, label) are stamped by the
// orchestrator from ceremony state, never from here.
func (v *WebAuthnVerifier) VerifyRegistration(rp RelyingParty, state *State, user *User, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	wa, err := v.instance(rp)
	if err != nil {
		return nil, err
	}

	wcred, err := wa.CreateCredential(&verifierUser{user: user}, v.session(state, user.Handle), response)
	if err != nil {
		return nil, NewError("verify registration", fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}

	return &Credential{
		ID:              wcred.ID,
		UserHandle:      user.Handle,
		PublicKey:       wcred.PublicKey,
		SignCount:       wcred.Authenticator.SignCount,
		Type:            string(protocol.PublicKeyCredentialType),
		AttestationType: wcred.AttestationType,
		AAGUID:          wcred.Authenticator.AAGUID,
		Transport:       wcred.Transport,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// VerifyAssertion validates an assertion response against the matched
// credential and returns the counter value the authenticator presented.
// Counter policy belongs to the caller.
func (v *WebAuthnVerifier) VerifyAssertion(rp RelyingParty, state *State, user *User, cred *Credential, response *protocol.ParsedCredentialAssertionData) (uint32, error) {
	wa, err := v.instance(rp)
	if err != nil {
		return 0, err
	}

	holder := &verifierUser{
		user:  user,
		creds: []webauthn.Credential{cred.ToWebAuthn()},
	}
	if _, err := wa.ValidateLogin(holder, v.session(state, user.Handle), response); err != nil {
		return 0, NewError("verify assertion", fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}

	return response.Response.AuthenticatorData.Counter, nil
}

// verifierUser adapts a directory user and its matched credential to the
// library's user contract for the duration of one verification.
type verifierUser struct {
	user  *User
	creds []webauthn.Credential
}

func (u *verifierUser) WebAuthnID() []byte {
	return u.user.Handle
}

func (u *verifierUser) WebAuthnName() string {
	return u.user.Name
}

func (u *verifierUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *verifierUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

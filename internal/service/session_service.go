package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"prima/internal/logger"
	"prima/internal/model"
	"prima/internal/repository"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidSignature = errors.New("signature does not match the address")
	ErrUnknownNonce     = errors.New("no pending nonce for this address, request a new one")
	ErrInvalidToken     = errors.New("invalid session token")
)

const nonceTTL = 5 * time.Minute

// --- DTOs ---

type NonceRequest struct {
	Address string `json:"address" binding:"required"`
}

type NonceResponse struct {
	Address   string `json:"address"`
	Nonce     string `json:"nonce"`
	Message   string `json:"message"` // sign this with personal_sign
	ExpiresAt string `json:"expires_at"`
}

type SessionRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	ChainID   int64  `json:"chain_id"`
	ExpiresAt string `json:"expires_at"`
}

// --- Interface ---

// SessionService proves control of an address by signature and issues session tokens for it.
type SessionService interface {
	IssueNonce(ctx context.Context, req NonceRequest) (NonceResponse, error)
	OpenSession(ctx context.Context, req SessionRequest) (TokenResponse, error)
	ParseToken(token string) (model.Session, error)
}

type pendingNonce struct {
	message   string
	expiresAt time.Time
}

type sessionService struct {
	secret    []byte
	ttl       time.Duration
	chainID   int64
	auditRepo repository.AuditRepository
	now       func() time.Time
	log       zerolog.Logger

	mu     sync.Mutex
	nonces map[string]pendingNonce
}

func NewSessionService(secret []byte, ttl time.Duration, chainID int64, auditRepo repository.AuditRepository) SessionService {
	return &sessionService{
		secret:    secret,
		ttl:       ttl,
		chainID:   chainID,
		auditRepo: auditRepo,
		now:       time.Now,
		log:       logger.WithComponent("session"),
		nonces:    make(map[string]pendingNonce),
	}
}

// auditOpen records the sign-in. A failed audit write does not fail the session.
func (s *sessionService) auditOpen(ctx context.Context, addr model.Identity, expiresAt time.Time) {
	details, err := json.Marshal(map[string]interface{}{"chain_id": s.chainID, "expires_at": expiresAt.Format(time.RFC3339)})
	if err != nil {
		s.log.Error().Err(err).Str("actor", addr.String()).Msg("failed to encode session audit details")
		return
	}
	err = s.auditRepo.Log(ctx, &model.AuditLog{
		ID:         uuid.New(),
		Actor:      addr.String(),
		Action:     model.ActionOpenSession,
		EntityID:   addr.String(),
		EntityName: "session",
		Details:    string(details),
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("actor", addr.String()).Msg("failed to audit session")
	}
}

func signInMessage(addr model.Identity, chainID int64, nonce string) string {
	return fmt.Sprintf("Sign in to Prima\nAddress: %s\nChain ID: %d\nNonce: %s", addr, chainID, nonce)
}

func (s *sessionService) IssueNonce(_ context.Context, req NonceRequest) (NonceResponse, error) {
	addr, err := model.ParseIdentity(req.Address)
	if err != nil {
		return NonceResponse{}, err
	}
	nonce := uuid.NewString()
	pending := pendingNonce{
		message:   signInMessage(addr, s.chainID, nonce),
		expiresAt: s.now().Add(nonceTTL),
	}

	s.mu.Lock()
	for k, p := range s.nonces {
		if s.now().After(p.expiresAt) {
			delete(s.nonces, k)
		}
	}
	s.nonces[addr.String()] = pending
	s.mu.Unlock()

	return NonceResponse{
		Address:   addr.String(),
		Nonce:     nonce,
		Message:   pending.message,
		ExpiresAt: pending.expiresAt.Format(time.RFC3339),
	}, nil
}

func (s *sessionService) OpenSession(ctx context.Context, req SessionRequest) (TokenResponse, error) {
	addr, err := model.ParseIdentity(req.Address)
	if err != nil {
		return TokenResponse{}, err
	}

	s.mu.Lock()
	pending, ok := s.nonces[addr.String()]
	if ok {
		// single use, even when the signature turns out wrong
		delete(s.nonces, addr.String())
	}
	s.mu.Unlock()
	if !ok || s.now().After(pending.expiresAt) {
		return TokenResponse{}, ErrUnknownNonce
	}

	signer, err := recoverSigner(pending.message, req.Signature)
	if err != nil {
		return TokenResponse{}, err
	}
	if !signer.Equal(addr) {
		return TokenResponse{}, ErrInvalidSignature
	}

	expiresAt := s.now().Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      addr.String(),
		"chain_id": s.chainID,
		"iat":      s.now().Unix(),
		"exp":      expiresAt.Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return TokenResponse{}, errors.New("failed to generate token")
	}

	if s.auditRepo != nil {
		s.auditOpen(ctx, addr, expiresAt)
	}

	return TokenResponse{
		Token:     tokenString,
		Address:   addr.String(),
		ChainID:   s.chainID,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

// recoverSigner returns the address that produced an EIP-191 personal_sign signature over message.
func recoverSigner(message, signature string) (model.Identity, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return model.Identity{}, model.NewValidationError("signature", signature, "must be a 65-byte hex signature")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return model.Identity{}, ErrInvalidSignature
	}
	return model.IdentityFromAddress(crypto.PubkeyToAddress(*pub)), nil
}

func (s *sessionService) ParseToken(tokenString string) (model.Session, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return model.Session{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Session{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	actor, err := model.ParseIdentity(sub)
	if err != nil {
		return model.Session{}, ErrInvalidToken
	}
	chainID, _ := claims["chain_id"].(float64)
	if int64(chainID) != s.chainID {
		return model.Session{}, ErrInvalidToken
	}
	return model.Session{Actor: actor, ChainID: int64(chainID)}, nil
}

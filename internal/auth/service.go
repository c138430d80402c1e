// Package auth registers authors, issues access tokens and resolves the
// author behind a request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const accessTokenTTL = 24 * time.Hour

// ErrInvalidCredentials is returned for unknown usernames and wrong passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

type Claims struct {
	AuthorID int64  `json:"author_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type Service struct {
	secret []byte
	store  storage.Storage
	now    func() time.Time
}

func NewService(secret string, store storage.Storage) *Service {
	return &Service{secret: []byte(secret), store: store, now: time.Now}
}

// Register creates an author with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*domain.Author, TokenResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, TokenResponse{}, domain.Validationf("username and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, TokenResponse{}, err
	}
	author, err := s.store.CreateAuthor(ctx, &domain.Author{Username: username, PasswordHash: string(hash)})
	if err != nil {
		return nil, TokenResponse{}, err
	}
	tokens, err := s.IssueToken(author)
	if err != nil {
		return nil, TokenResponse{}, err
	}
	return author, tokens, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*domain.Author, TokenResponse, error) {
	author, err := s.store.GetAuthorByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, TokenResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return nil, TokenResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(author.PasswordHash), []byte(password)); err != nil {
		return nil, TokenResponse{}, ErrInvalidCredentials
	}
	tokens, err := s.IssueToken(author)
	if err != nil {
		return nil, TokenResponse{}, err
	}
	return author, tokens, nil
}

func (s *Service) IssueToken(author *domain.Author) (TokenResponse, error) {
	now := s.now()
	claims := Claims{
		AuthorID: author.ID,
		Username: author.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(author.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTokenTTL.Seconds()),
	}, nil
}

// Authenticate resolves a bearer token to its author. Tokens of deleted
// authors are rejected.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Author, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}
	author, err := s.store.GetAuthorByID(ctx, claims.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("token author: %w", err)
	}
	return author, nil
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

/*
Package auth provides registration, login and bearer-token verification.

PURPOSE:
  Passwords are stored as bcrypt hashes. Login issues an HS256 JWT whose
  "sub" claim is the user ID; the api middleware verifies the token and puts
  the user ID in the request context.

KEY TYPES:
  Tokens:  Issue / Verify signed tokens
  Service: Register / Login against a commerce.Store

SEE ALSO:
  - api/middleware.go: Authenticated middleware
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/bookstore-engine/commerce"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// =============================================================================
// PASSWORDS
// =============================================================================

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// =============================================================================
// TOKENS
// =============================================================================

// Tokens signs and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  commerce.Clock
}

// NewTokens returns a token signer. The secret must not be empty.
func NewTokens(secret string, ttl time.Duration, clock commerce.Clock) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth: token secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if clock == nil {
		clock = commerce.SystemClock
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, issuer: "bookstore", clock: clock}, nil
}

// Issue signs a token for userID and returns it with its expiry.
func (t *Tokens) Issue(userID commerce.UserID) (string, time.Time, error) {
	now := t.clock()
	expires := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a signed token and returns its subject.
// Any failure is reported as commerce.ErrUnauthenticated.
func (t *Tokens) Verify(tokenStr string) (commerce.UserID, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid or expired token", commerce.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", commerce.ErrUnauthenticated)
	}
	return commerce.UserID(claims.Subject), nil
}

// =============================================================================
// SERVICE
// =============================================================================

// Registration describes a new account.
type Registration struct {
	Username string
	Password string
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      commerce.User
}

// Service registers users and logs them in.
type Service struct {
	store  commerce.Store
	tokens *Tokens
	clock  commerce.Clock
	log    *zap.Logger
}

func NewService(store commerce.Store, tokens *Tokens, clock commerce.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = commerce.SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, tokens: tokens, clock: clock, log: log.Named("auth")}
}

// Tokens returns the signer used for verification by the HTTP layer.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Register creates a restricted user with a zero balance.
func (s *Service) Register(ctx context.Context, r Registration) (*commerce.User, error) {
	username := strings.TrimSpace(r.Username)
	if username == "" {
		return nil, &commerce.ValidationError{Field: "username", Message: "is required"}
	}
	if len(r.Password) < MinPasswordLength {
		return nil, &commerce.ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength),
		}
	}

	hash, err := HashPassword(r.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	user := commerce.User{
		ID:           commerce.UserID(commerce.NewID()),
		Username:     username,
		PasswordHash: hash,
		Balance:      commerce.ZeroMoney(),
		Class:        commerce.ClassRestricted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("user registered", zap.String("user_id", string(user.ID)), zap.String("username", username))
	return &user, nil
}

// Login checks the password and issues a token. Unknown usernames and
// wrong passwords both return commerce.ErrUnauthenticated.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if commerce.IsNotFound(err) {
			return nil, fmt.Errorf("%w: invalid username or password", commerce.ErrUnauthenticated)
		}
		return nil, err
	}
	if user.PasswordHash == "" || !CheckPassword(user.PasswordHash, password) {
		s.log.Info("login failed", zap.String("username", username))
		return nil, fmt.Errorf("%w: invalid username or password", commerce.ErrUnauthenticated)
	}

	token, expires, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: *user}, nil
}

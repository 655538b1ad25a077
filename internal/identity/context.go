package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingAccount = errors.New("token does not carry an account id")
	ErrInvalidToken   = errors.New("invalid user token")
)

// Snapshot is the signed-in state at one point in time.
type Snapshot struct {
	AccountID string
	Token     string
}

// SignedIn reports whether an account is present.
func (s Snapshot) SignedIn() bool {
	return s.AccountID != ""
}

// Change describes a transition of the signed-in account.
// Current is empty on sign-out.
type Change struct {
	Previous string
	Current  string
}

// Context tracks the signed-in user and notifies subscribers on changes.
type Context struct {
	cfg       Config
	publicKey *rsa.PublicKey
	logger    *slog.Logger

	mu        sync.RWMutex
	current   Snapshot
	listeners map[int]func(Change)
	nextID    int
}

// NewContext creates an identity context with nobody signed in.
func NewContext(cfg Config, logger *slog.Logger) (*Context, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		cfg:       cfg,
		logger:    logger.With("component", "identity"),
		listeners: make(map[int]func(Change)),
	}
	if cfg.PublicKeyPath != "" {
		key, err := LoadPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load identity public key: %w", err)
		}
		c.publicKey = key
	}
	return c, nil
}

// LoadPublicKey reads a PEM encoded RSA public key (PKIX or PKCS1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

// AccountFromToken extracts the account id claim from a user token.
func (c *Context) AccountFromToken(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	if c.publicKey != nil {
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return c.publicKey, nil
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !token.Valid {
			return "", ErrInvalidToken
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	account, _ := claims[c.cfg.AccountClaim].(string)
	if account == "" {
		// Azure AD B2C tokens carry the object id separately.
		account, _ = claims["oid"].(string)
	}
	if account == "" {
		return "", ErrMissingAccount
	}
	return account, nil
}

// SignIn makes the token's account the current identity. Switching to a
// different account notifies a sign-out of the previous one first.
func (c *Context) SignIn(tokenString string) error {
	account, err := c.AccountFromToken(tokenString)
	if err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.current.AccountID
	c.current = Snapshot{AccountID: account, Token: tokenString}
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	if previous == account {
		// Token refresh for the same account.
		return nil
	}
	if previous != "" {
		notify(listeners, Change{Previous: previous})
	}
	c.logger.Info("User signed in", "account_id", account)
	notify(listeners, Change{Previous: previous, Current: account})
	return nil
}

// SignOut clears the current identity.
func (c *Context) SignOut() {
	c.mu.Lock()
	previous := c.current.AccountID
	c.current = Snapshot{}
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	if previous == "" {
		return
	}
	c.logger.Info("User signed out", "account_id", previous)
	notify(listeners, Change{Previous: previous})
}

// Snapshot returns the current identity.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// AccountID returns the current account id, or "" when signed out.
func (c *Context) AccountID() string {
	return c.Snapshot().AccountID
}

// Subscribe registers fn for identity changes and returns a function removing it.
func (c *Context) Subscribe(fn func(Change)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// caller must hold c.mu
func (c *Context) snapshotListeners() []func(Change) {
	out := make([]func(Change), 0, len(c.listeners))
	for i := 0; i < c.nextID; i++ {
		if fn, ok := c.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []func(Change), change Change) {
	for _, fn := range listeners {
		fn(change)
	}
}

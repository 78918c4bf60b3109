package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	adminTokenExpiry = 12 * time.Hour
	adminSubject     = "admin"
	bcryptCost       = 12
	loginBurst       = 5
	loginEvery       = 12 * time.Second // sustained rate: 5 per minute
)

var (
	ErrAdminDisabled     = errors.New("admin access is disabled")
	ErrBadCredentials    = errors.New("invalid password")
	ErrTooManyAttempts   = errors.New("too many login attempts, try again later")
	ErrInvalidAdminToken = errors.New("invalid token")
)

// AdminAuth guards the admin endpoints with a password and short-lived JWTs
type AdminAuth struct {
	passHash  []byte
	jwtSecret []byte
	now       func() time.Time

	// per-IP login limiters
	rateMu  sync.Mutex
	limiter map[string]*rate.Limiter
}

// NewAdminAuth hashes the admin password. An empty password disables login.
func NewAdminAuth(db *DB, password string) (*AdminAuth, error) {
	a := &AdminAuth{
		jwtSecret: loadOrCreateSecret(db),
		now:       time.Now,
		limiter:   make(map[string]*rate.Limiter),
	}
	if password == "" {
		return a, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	a.passHash = hash
	return a, nil
}

// Enabled reports whether an admin password is configured
func (a *AdminAuth) Enabled() bool {
	return len(a.passHash) > 0
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Printf("warning: could not persist JWT secret: %v", err)
		}
	}
	return secret
}

// Login checks the password and returns a signed token
func (a *AdminAuth) Login(password, ip string) (string, error) {
	if !a.Enabled() {
		return "", ErrAdminDisabled
	}
	if !a.allow(ip) {
		return "", ErrTooManyAttempts
	}
	if err := bcrypt.CompareHashAndPassword(a.passHash, []byte(password)); err != nil {
		log.Printf("[admin] failed login from %s", ip)
		return "", ErrBadCredentials
	}
	return a.generateToken()
}

// ValidateToken checks signature, expiry and subject
func (a *AdminAuth) ValidateToken(tokenStr string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdminToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub != adminSubject {
		return ErrInvalidAdminToken
	}
	return nil
}

func (a *AdminAuth) generateToken() (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub": adminSubject,
		"jti": GenerateID(8),
		"exp": now.Add(adminTokenExpiry).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *AdminAuth) allow(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	l, ok := a.limiter[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(loginEvery), loginBurst)
		a.limiter[ip] = l
	}
	return l.Allow()
}

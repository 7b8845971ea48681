package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrSessionExpired = errors.New("session expired")
)

// Claims are the fields the client reads out of the token. The token is
// decoded, not verified: signature checking is the server's job, the client
// only needs the identity and the expiry.
type Claims struct {
	UserID int64
	Role   string
	Exp    int64
}

// Guard owns the session lifecycle. On expiry it clears the stored token
// and notifies subscribers, after which dependent components treat every
// operation as unauthenticated until a new token is saved.
type Guard struct {
	store *Store
	now   func() time.Time

	mu        sync.Mutex
	onExpired []func()
}

func NewGuard(store *Store) *Guard {
	return &Guard{
		store: store,
		now:   time.Now,
	}
}

// OnExpired registers a callback invoked once per detected expiry.
func (g *Guard) OnExpired(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onExpired = append(g.onExpired, fn)
}

// Decode parses the token's claims without verifying the signature.
func Decode(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, ErrMalformedToken
	}

	out := Claims{}
	if v, ok := claims["userId"].(float64); ok {
		out.UserID = int64(v)
	}
	if v, ok := claims["role"].(string); ok {
		out.Role = v
	}
	if v, ok := claims["exp"].(float64); ok {
		out.Exp = int64(v)
	}
	return out, nil
}

// CurrentToken returns the stored token if it is present, parseable and not
// expired. Unparseable and expired tokens are cleared; expiry additionally
// fires the OnExpired subscribers.
func (g *Guard) CurrentToken() (string, error) {
	token, err := g.store.LoadToken()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrSessionExpired
	}

	claims, err := Decode(token)
	if err != nil {
		slog.Warn("discarding unparseable token")
		_ = g.store.ClearToken()
		return "", ErrMalformedToken
	}

	if claims.Exp > 0 && claims.Exp <= g.now().Unix() {
		g.Expire()
		return "", ErrSessionExpired
	}

	return token, nil
}

// CurrentClaims decodes the claims of the current valid token.
func (g *Guard) CurrentClaims() (Claims, error) {
	token, err := g.CurrentToken()
	if err != nil {
		return Claims{}, err
	}
	return Decode(token)
}

// SaveToken persists a freshly issued token, ending any expired state.
func (g *Guard) SaveToken(token string) error {
	return g.store.SaveToken(token)
}

// Expire clears the stored token and notifies subscribers. Used both for
// locally detected expiry and for a server-side TokenExpiredError frame.
func (g *Guard) Expire() {
	if err := g.store.ClearToken(); err != nil {
		slog.Error("failed to clear expired token", "error", err)
	}

	g.mu.Lock()
	subs := make([]func(), len(g.onExpired))
	copy(subs, g.onExpired)
	g.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Logout tears the session down without treating it as an expiry.
func (g *Guard) Logout() error {
	return g.store.ClearToken()
}

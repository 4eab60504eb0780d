// Package session gives request handlers an explicit per-browser key/value
// capability. Values live in process memory and expire after a TTL.
package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const contextKey = "session"

// Handle is the key/value view of one session.
type Handle interface {
	ID() string
	Get(key string) (string, bool)
	Set(key, value string)
}

// Store keeps session values for all sessions. Every Set restarts the TTL of
// that value.
type Store struct {
	items *cache.Cache
}

// NewStore creates a store whose values expire after ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{items: cache.New(ttl, 2*ttl)}
}

// Handle returns the view of session id.
func (s *Store) Handle(id string) Handle {
	return &handle{id: id, store: s}
}

type handle struct {
	id    string
	store *Store
}

func (h *handle) ID() string { return h.id }

func (h *handle) Get(key string) (string, bool) {
	v, ok := h.store.items.Get(h.key(key))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (h *handle) Set(key, value string) {
	h.store.items.Set(h.key(key), value, cache.DefaultExpiration)
}

func (h *handle) key(k string) string {
	return h.id + "\x00" + k
}

// CookieOptions describe the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// NewCodec builds the cookie signer. An empty hashKey yields a random key,
// which invalidates all sessions on restart. blockKey enables encryption and
// must be 16, 24 or 32 bytes long.
func NewCodec(hashKey, blockKey string, logger *logrus.Logger) (*securecookie.SecureCookie, error) {
	hk := []byte(hashKey)
	if len(hk) == 0 {
		logger.Warn("session.hash_key не задан, используется случайный ключ")
		hk = securecookie.GenerateRandomKey(32)
	}

	var bk []byte
	if blockKey != "" {
		switch len(blockKey) {
		case 16, 24, 32:
			bk = []byte(blockKey)
		default:
			return nil, errors.New("session block key must be 16, 24 or 32 bytes")
		}
	}

	return securecookie.New(hk, bk), nil
}

// Middleware attaches a Handle to every request. The session id travels in a
// signed cookie; a missing or tampered cookie starts a new session.
func Middleware(store *Store, codec *securecookie.SecureCookie, opts CookieOptions, logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var id string
			if ck, err := c.Cookie(opts.Name); err == nil {
				if err := codec.Decode(opts.Name, ck.Value, &id); err != nil {
					logger.WithError(err).Debug("Невалидная cookie сессии, создается новая сессия")
					id = ""
				}
			}

			if id == "" {
				id = uuid.NewString()
				encoded, err := codec.Encode(opts.Name, id)
				if err != nil {
					return err
				}
				c.SetCookie(&http.Cookie{
					Name:     opts.Name,
					Value:    encoded,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   int(opts.TTL.Seconds()),
				})
			}

			c.Set(contextKey, store.Handle(id))
			return next(c)
		}
	}
}

// FromContext returns the Handle attached by Middleware.
func FromContext(c echo.Context) (Handle, bool) {
	h, ok := c.Get(contextKey).(Handle)
	return h, ok
}

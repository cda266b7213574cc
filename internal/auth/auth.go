// Package auth decides whether a request identified by a bearer API key
// may proceed, and at what rate. It owns the service registry and the
// per-service rate windows; both live in process memory only.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrUnauthorized means the API key is unknown, revoked, or inactive.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrRateLimited means consuming the requested cost would exceed the
	// service's per-minute quota. The caller must reject without enqueueing.
	ErrRateLimited = errors.New("auth: rate limit exceeded")
	// ErrConflict means a registration reused an existing service name.
	ErrConflict = errors.New("auth: service already registered")
	// ErrNotFound means the named service is not registered.
	ErrNotFound = errors.New("auth: service not found")
)

// ServiceIdentity is the registered owner of an API key. Returned values
// are snapshots; concurrent key rotation never produces a torn read.
type ServiceIdentity struct {
	ServiceName string    `json:"service_name"`
	ServiceType string    `json:"service_type"`
	RateLimit   int       `json:"rate_limit"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
	// APIKeyHash is the SHA-256 of the current key; the key itself is
	// never listed back out.
	APIKeyHash string `json:"api_key_hash"`
}

// RegistrationSpec is the administrative input for adding a service.
type RegistrationSpec struct {
	ServiceName string `json:"service_name" yaml:"service_name" validate:"required"`
	ServiceType string `json:"service_type" yaml:"service_type"`
	APIKey      string `json:"api_key" yaml:"api_key" validate:"required"`
	RateLimit   int    `json:"rate_limit" yaml:"rate_limit"`
}

// rateWindow is the fixed one-minute counter enforcing a service's quota.
type rateWindow struct {
	start time.Time
	used  int
}

type serviceRecord struct {
	identity ServiceIdentity
	apiKey   string
	window   rateWindow
}

// DefaultRateLimit applies when a registration does not set a quota.
const DefaultRateLimit = 100

// Service maps API keys to service identities and enforces quotas. All
// state is guarded by one mutex: two concurrent requests for the same
// service are both counted against the shared window.
type Service struct {
	mu       sync.Mutex
	services map[string]*serviceRecord
	byKey    map[string]string
	window   time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// New returns an empty registry with a one-minute rate window.
func New(logger zerolog.Logger) *Service {
	return &Service{
		services: make(map[string]*serviceRecord),
		byKey:    make(map[string]string),
		window:   time.Minute,
		now:      time.Now,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

// Register adds a service. It fails with ErrConflict if the name is taken.
func (s *Service) Register(spec RegistrationSpec) (ServiceIdentity, error) {
	if spec.RateLimit <= 0 {
		spec.RateLimit = DefaultRateLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[spec.ServiceName]; exists {
		return ServiceIdentity{}, ErrConflict
	}
	rec := &serviceRecord{
		identity: ServiceIdentity{
			ServiceName: spec.ServiceName,
			ServiceType: spec.ServiceType,
			RateLimit:   spec.RateLimit,
			CreatedAt:   s.now().UTC(),
			Active:      true,
			APIKeyHash:  hashKey(spec.APIKey),
		},
		apiKey: spec.APIKey,
	}
	s.services[spec.ServiceName] = rec
	s.byKey[spec.APIKey] = spec.ServiceName
	s.logger.Info().Str("service", spec.ServiceName).Int("rate_limit", spec.RateLimit).Msg("registered service")
	return rec.identity, nil
}

// Authenticate resolves an API key to its service identity snapshot.
func (s *Service) Authenticate(apiKey string) (ServiceIdentity, error) {
	if apiKey == "" {
		return ServiceIdentity{}, ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.byKey[apiKey]
	if !ok {
		return ServiceIdentity{}, ErrUnauthorized
	}
	rec, ok := s.services[name]
	if !ok || !rec.identity.Active {
		return ServiceIdentity{}, ErrUnauthorized
	}
	return rec.identity, nil
}

// CheckAndConsume atomically charges cost against the service's current
// window. On ErrRateLimited nothing is consumed; the whole cost is
// accepted or rejected, so a batch never partially draws down the quota.
func (s *Service) CheckAndConsume(serviceName string, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.services[serviceName]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	if now.Sub(rec.window.start) >= s.window {
		rec.window.start = now
		rec.window.used = 0
	}
	if rec.window.used+cost > rec.identity.RateLimit {
		return ErrRateLimited
	}
	rec.window.used += cost
	return nil
}

// RotateKey replaces the service's credential. The old key stops
// validating the moment this returns; requests already holding an
// identity snapshot complete against that snapshot.
func (s *Service) RotateKey(serviceName string) (string, error) {
	newKey := "lw_" + uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.services[serviceName]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.byKey, rec.apiKey)
	rec.apiKey = newKey
	rec.identity.APIKeyHash = hashKey(newKey)
	s.byKey[newKey] = serviceName
	s.logger.Info().Str("service", serviceName).Msg("rotated api key")
	return newKey, nil
}

// Remove deletes a service and its key mapping.
func (s *Service) Remove(serviceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.services[serviceName]
	if !ok {
		return ErrNotFound
	}
	delete(s.byKey, rec.apiKey)
	delete(s.services, serviceName)
	s.logger.Info().Str("service", serviceName).Msg("removed service")
	return nil
}

// List returns all registered identities ordered by service name.
func (s *Service) List() []ServiceIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ServiceIdentity, 0, len(s.services))
	for _, rec := range s.services {
		out = append(out, rec.identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out
}

func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

package policy

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lei/ghe-policy-check/internal/config"
	"github.com/lei/ghe-policy-check/internal/github"
	"github.com/lei/ghe-policy-check/internal/store"
	"github.com/lei/ghe-policy-check/pkg/logger"
)

var (
	// ErrOwnerNotFound indicates an org has no usable admin and the global owner user is not mirrored
	ErrOwnerNotFound = errors.New("policy: github owner user does not exist")
)

// ClientFactory builds gateway clients. Clients are not safe for concurrent
// use, so every call returns a new one.
type ClientFactory interface {
	// Admin returns a client over the admin token pool
	Admin() (*github.Client, error)
	// Owner returns a client authenticated as the global owner user
	Owner() (*github.Client, error)
}

type clientFactory struct {
	cfg        config.GitHubConfig
	httpClient github.HTTPDoer
	logger     *logger.Logger
}

// NewClientFactory returns a ClientFactory for the configured instance
func NewClientFactory(cfg config.GitHubConfig, log *logger.Logger) ClientFactory {
	if log == nil {
		log = logger.Discard()
	}
	return &clientFactory{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

func (f *clientFactory) Admin() (*github.Client, error) {
	return github.NewClient(github.Config{
		BaseURL:    f.cfg.APIURL,
		Tokens:     f.cfg.AdminTokens,
		HTTPClient: f.httpClient,
		Logger:     f.logger,
	})
}

func (f *clientFactory) Owner() (*github.Client, error) {
	return github.NewClient(github.Config{
		BaseURL:    f.cfg.APIURL,
		Tokens:     []string{f.cfg.OwnerToken},
		HTTPClient: f.httpClient,
		Logger:     f.logger,
	})
}

// Config holds the policy settings a Service needs
type Config struct {
	OwnerUser string
	Polling   config.PollingConfig
	Policy    *config.Policy
}

// Service keeps the mirror in step with GitHub and enforces the
// classification policy on repositories.
type Service struct {
	store     *store.Store
	clients   ClientFactory
	policy    *config.Policy
	polling   config.PollingConfig
	ownerUser string
	logger    *logger.Logger

	owners singleflight.Group
	locks  keyedMutex
	tasks  sync.WaitGroup

	// stop is cancelled by Shutdown; background work derives from it
	stop      context.Context
	stopTasks context.CancelFunc

	taskAttempts int
	taskBackoff  time.Duration

	now func() time.Time
}

// NewService creates a new policy service
func NewService(st *store.Store, clients ClientFactory, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	policy := cfg.Policy
	if policy == nil {
		policy, _ = config.LoadPolicy("")
	}

	stop, stopTasks := context.WithCancel(context.Background())

	return &Service{
		stop:         stop,
		stopTasks:    stopTasks,
		store:        st,
		clients:      clients,
		policy:       policy,
		polling:      cfg.Polling,
		ownerUser:    cfg.OwnerUser,
		logger:       log,
		taskAttempts: 5,
		taskBackoff:  10 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the mirror store
func (s *Service) Store() *store.Store {
	return s.store
}

// log returns the request-scoped logger when ctx carries one
func (s *Service) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx, s.logger)
}

// RateLimit reports the rate limit status of the active admin token
func (s *Service) RateLimit(ctx context.Context) (*github.RateLimitStatus, error) {
	client, err := s.clients.Admin()
	if err != nil {
		return nil, err
	}
	return client.RateLimit(ctx)
}

// share is the number of rows handled per polling run so every row is
// visited once per reminder period.
func (s *Service) share(count int) int {
	periods := s.polling.PollingPeriods()
	if periods < 1 {
		periods = 1
	}
	return int(math.Ceil(float64(count) / float64(periods)))
}

// keyedMutex serialises work per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

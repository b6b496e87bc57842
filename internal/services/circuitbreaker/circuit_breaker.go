package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before a probe is let through.
	OpenTimeout time.Duration
	// IdleExpiry drops the breaker's state after a quiet period.
	IdleExpiry time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		IdleExpiry:       10 * time.Minute,
	}
}

const (
	keyPrefix   = "letterpress:breaker:"
	callTimeout = time.Second
)

// State lives in one hash per breaker: state, failures, successes, opened_at, changed_at.
var (
	// KEYS[1] hash; ARGV[1] now ms; ARGV[2] open timeout ms; ARGV[3] expiry ms
	allowScript = redis.NewScript(`
		local state = tonumber(redis.call('HGET', KEYS[1], 'state') or '0')
		if state == 1 then
			local opened = tonumber(redis.call('HGET', KEYS[1], 'opened_at') or '0')
			if tonumber(ARGV[1]) - opened >= tonumber(ARGV[2]) then
				redis.call('HSET', KEYS[1], 'state', 2, 'successes', 0, 'changed_at', ARGV[1])
				redis.call('PEXPIRE', KEYS[1], ARGV[3])
				return 2
			end
			return 1
		end
		return state
	`)

	// KEYS[1] hash; ARGV[1] success threshold; ARGV[2] now ms; ARGV[3] expiry ms
	successScript = redis.NewScript(`
		local state = tonumber(redis.call('HGET', KEYS[1], 'state') or '0')
		redis.call('HSET', KEYS[1], 'failures', 0)
		redis.call('PEXPIRE', KEYS[1], ARGV[3])
		if state == 2 then
			local count = redis.call('HINCRBY', KEYS[1], 'successes', 1)
			if count >= tonumber(ARGV[1]) then
				redis.call('HSET', KEYS[1], 'state', 0, 'successes', 0, 'changed_at', ARGV[2])
				return 2
			end
			return 1
		end
		return 0
	`)

	// KEYS[1] hash; ARGV[1] failure threshold; ARGV[2] now ms; ARGV[3] expiry ms
	failureScript = redis.NewScript(`
		local state = tonumber(redis.call('HGET', KEYS[1], 'state') or '0')
		local count = redis.call('HINCRBY', KEYS[1], 'failures', 1)
		redis.call('PEXPIRE', KEYS[1], ARGV[3])
		if (state == 0 and count >= tonumber(ARGV[1])) or state == 2 then
			redis.call('HSET', KEYS[1], 'state', 1, 'opened_at', ARGV[2], 'successes', 0, 'changed_at', ARGV[2])
			return 1
		end
		return 0
	`)
)

// CircuitBreaker is shared across instances through Redis. Redis failures fail open so an outage of
// the breaker store never blocks generation.
type CircuitBreaker struct {
	client redis.UniversalClient
	name   string
	key    string
	config Config
	now    func() time.Time
}

func New(client redis.UniversalClient, name string, config Config) *CircuitBreaker {
	defaults := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	if config.IdleExpiry <= 0 {
		config.IdleExpiry = defaults.IdleExpiry
	}

	return &CircuitBreaker{
		client: client,
		name:   name,
		key:    keyPrefix + name,
		config: config,
		now:    time.Now,
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow returns a circuit breaker error while the breaker is open.
func (cb *CircuitBreaker) Allow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := allowScript.Run(ctx, cb.client, []string{cb.key},
		cb.now().UnixMilli(), cb.config.OpenTimeout.Milliseconds(), cb.config.IdleExpiry.Milliseconds()).Int()
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: %s failed to read state, allowing execution: %v", cb.name, err)
		return nil
	}

	switch State(result) {
	case Open:
		return models.NewCircuitBreakerError(cb.name)
	case HalfOpen:
		fiberlog.Debugf("CircuitBreaker: %s letting a probe through", cb.name)
	}
	return nil
}

// Record feeds the outcome of a call into the breaker.
func (cb *CircuitBreaker) Record(ctx context.Context, callErr error) {
	if callErr == nil {
		cb.RecordSuccess(ctx)
		return
	}
	cb.RecordFailure(ctx)
}

func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callTimeout)
	defer cancel()

	result, err := successScript.Run(ctx, cb.client, []string{cb.key},
		cb.config.SuccessThreshold, cb.now().UnixMilli(), cb.config.IdleExpiry.Milliseconds()).Int()
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: %s failed to record success: %v", cb.name, err)
		return
	}

	switch result {
	case 2:
		fiberlog.Infof("CircuitBreaker: %s transitioned to Closed state after success", cb.name)
	case 1:
		fiberlog.Infof("CircuitBreaker: %s recorded success in HalfOpen state", cb.name)
	}
}

func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callTimeout)
	defer cancel()

	result, err := failureScript.Run(ctx, cb.client, []string{cb.key},
		cb.config.FailureThreshold, cb.now().UnixMilli(), cb.config.IdleExpiry.Milliseconds()).Int()
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: %s failed to record failure: %v", cb.name, err)
		return
	}

	if result == 1 {
		fiberlog.Warnf("CircuitBreaker: %s transitioned to Open state after failure", cb.name)
	} else {
		fiberlog.Debugf("CircuitBreaker: %s recorded failure", cb.name)
	}
}

// State reads the stored state without transitioning it. Missing state is Closed.
func (cb *CircuitBreaker) State(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	raw, err := cb.client.HGet(ctx, cb.key, "state").Result()
	if err == redis.Nil {
		return Closed
	}
	if err != nil {
		fiberlog.Errorf("CircuitBreaker: %s failed to get state, returning Closed: %v", cb.name, err)
		return Closed
	}

	state, err := strconv.Atoi(raw)
	if err != nil {
		return Closed
	}
	return State(state)
}

func (cb *CircuitBreaker) Reset(ctx context.Context) error {
	if err := cb.client.Del(ctx, cb.key).Err(); err != nil {
		return fmt.Errorf("failed to reset circuit breaker %s: %w", cb.name, err)
	}
	fiberlog.Infof("CircuitBreaker: Reset circuit breaker for service %s", cb.name)
	return nil
}

// Registry hands out one breaker per provider name.
type Registry struct {
	client   redis.UniversalClient
	config   Config
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry(client redis.UniversalClient, config Config) *Registry {
	return &Registry{
		client:   client,
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (r *Registry) ForProvider(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(r.client, name, r.config)
	r.breakers[name] = cb
	return cb
}

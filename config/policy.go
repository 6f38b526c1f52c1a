package config

import (
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// A KindPolicy makes the retry/requeue behavior for one job kind explicit:
// how many executors consume the queue, how many deliveries are allowed
// before the message is dead-lettered, and the backoff schedule between
// redeliveries.
type KindPolicy struct {
	Concurrency   int           `yaml:"concurrency"`
	MaxDeliveries int           `yaml:"max_deliveries"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`

	// StuckAfter is how long a job may sit in running before the watchdog
	// fails it and re-queues the message.
	StuckAfter time.Duration `yaml:"stuck_after"`
}

// Policy holds per-kind executor policies keyed by job kind name.
type Policy struct {
	Kinds map[string]KindPolicy `yaml:"kinds"`
}

// DefaultKindPolicy applies when the policy file omits a kind.
var DefaultKindPolicy = KindPolicy{
	Concurrency:   2,
	MaxDeliveries: 5,
	BackoffBase:   2 * time.Second,
	BackoffCap:    5 * time.Minute,
	StuckAfter:    7 * time.Minute,
}

// LoadPolicy reads a YAML policy file. An empty path returns a policy that
// answers DefaultKindPolicy for every kind.
func LoadPolicy(path string) (Policy, error) {
	p := Policy{Kinds: map[string]KindPolicy{}}
	if path == "" {
		return p, nil
	}
	bits, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(err, "config: reading policy file")
	}
	if err := yaml.Unmarshal(bits, &p); err != nil {
		return p, errors.Wrap(err, "config: parsing policy file")
	}
	for name, kp := range p.Kinds {
		p.Kinds[name] = kp.withDefaults()
	}
	return p, nil
}

// For returns the policy for the named kind, falling back to defaults.
func (p Policy) For(kind string) KindPolicy {
	if kp, ok := p.Kinds[kind]; ok {
		return kp
	}
	return DefaultKindPolicy
}

func (kp KindPolicy) withDefaults() KindPolicy {
	if kp.Concurrency <= 0 {
		kp.Concurrency = DefaultKindPolicy.Concurrency
	}
	if kp.MaxDeliveries <= 0 {
		kp.MaxDeliveries = DefaultKindPolicy.MaxDeliveries
	}
	if kp.BackoffBase <= 0 {
		kp.BackoffBase = DefaultKindPolicy.BackoffBase
	}
	if kp.BackoffCap <= 0 {
		kp.BackoffCap = DefaultKindPolicy.BackoffCap
	}
	if kp.StuckAfter <= 0 {
		kp.StuckAfter = DefaultKindPolicy.StuckAfter
	}
	return kp
}

// Backoff returns the delay before redelivery number `delivery` (1-based).
// The schedule is exponential from BackoffBase, capped at BackoffCap.
func (kp KindPolicy) Backoff(delivery int) time.Duration {
	if delivery < 1 {
		delivery = 1
	}
	d := time.Duration(float64(kp.BackoffBase) * math.Pow(2, float64(delivery-1)))
	if d > kp.BackoffCap || d <= 0 {
		return kp.BackoffCap
	}
	return d
}

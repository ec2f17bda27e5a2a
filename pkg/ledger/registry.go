package ledger

import "sync"

// LimitFunc returns the daily budget for a new ledger key.
type LimitFunc func(key string) int

// Registry holds one Ledger per key (session or account).
type Registry struct {
	config   Config
	limitFor LimitFunc

	mu      sync.Mutex
	ledgers map[string]*Ledger
}

// NewRegistry creates a registry whose ledgers share config. limitFor may
// be nil, in which case config.Limit applies to every key.
func NewRegistry(config Config, limitFor LimitFunc) *Registry {
	return &Registry{
		config:   config.withDefaults(),
		limitFor: limitFor,
		ledgers:  make(map[string]*Ledger),
	}
}

// Get returns the ledger for key, creating it on first use.
func (r *Registry) Get(key string) *Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.ledgers[key]; ok {
		return l
	}
	cfg := r.config
	if r.limitFor != nil {
		if limit := r.limitFor(key); limit > 0 {
			cfg.Limit = limit
		}
	}
	l := New(cfg)
	r.ledgers[key] = l
	return l
}

// Forget flushes and drops the ledger for key, e.g. when a session ends.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	l, ok := r.ledgers[key]
	delete(r.ledgers, key)
	r.mu.Unlock()

	if ok {
		l.Flush()
	}
}

// Flush logs pending bursts of every ledger.
func (r *Registry) Flush() {
	r.mu.Lock()
	ledgers := make([]*Ledger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		ledgers = append(ledgers, l)
	}
	r.mu.Unlock()

	for _, l := range ledgers {
		l.Flush()
	}
}

// Len returns the number of live ledgers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledgers)
}

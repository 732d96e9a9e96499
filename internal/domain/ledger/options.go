package ledger

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithPersister overrides the persister passed to Open.
func WithPersister(p Persister) Option {
	return func(l *Ledger) {
		if p != nil {
			l.persister = p
		}
	}
}

package secret

// SecretStore keeps credentials out of the metadata database. Keys are
// namespaced by the caller, e.g. "db:<connection id>".
type SecretStore interface {
	Set(key string, value []byte) error
	// Get returns nil without error for an unknown key.
	Get(key string) ([]byte, error)
	Delete(key string) error
}

var _ SecretStore = (*EnvStore)(nil)

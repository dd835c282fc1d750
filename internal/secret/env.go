package secret

import (
	"os"
	"strings"
	"sync"
)

// EnvPrefix is prepended to the normalized key when looking up environment variables.
const EnvPrefix = "CURATOR_SECRET_"

// EnvStore implements SecretStore with process memory overlaid on the
// environment. Values set at runtime live until the process exits; values
// provisioned as CURATOR_SECRET_<KEY> are read-only defaults.
type EnvStore struct {
	mu      sync.RWMutex
	values  map[string][]byte
	deleted map[string]bool
	lookup  func(string) (string, bool)
}

// NewEnvStore creates an EnvStore backed by os.LookupEnv.
func NewEnvStore() *EnvStore {
	return &EnvStore{
		values:  map[string][]byte{},
		deleted: map[string]bool{},
		lookup:  os.LookupEnv,
	}
}

// EnvName returns the variable consulted for key: "db:ab-12" → CURATOR_SECRET_DB_AB_12.
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *EnvStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	delete(s.deleted, key)
	return nil
}

func (s *EnvStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return append([]byte(nil), v...), nil
	}
	if s.deleted[key] {
		return nil, nil
	}
	if v, ok := s.lookup(EnvName(key)); ok {
		return []byte(v), nil
	}
	return nil, nil
}

// Delete forgets a runtime value and hides any environment default for key.
func (s *EnvStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.deleted[key] = true
	return nil
}

package sources

import (
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// navigatePath returns the object or array at a dot-separated path inside
// data. An empty path returns data unchanged.
func navigatePath(data []byte, path string) ([]byte, error) {
	path = strings.Trim(path, ".")
	if path == "" {
		return data, nil
	}
	val, typ, _, err := jsonparser.Get(data, strings.Split(path, ".")...)
	if err != nil {
		return nil, fmt.Errorf("invalid data path %q: %w", path, err)
	}
	if typ != jsonparser.Array && typ != jsonparser.Object {
		return nil, fmt.Errorf("invalid data path %q: points at %s, not an array or object", path, typ)
	}
	return val, nil
}

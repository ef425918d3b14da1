package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrNotObject is returned when the config file is valid JSON but not an object.
var ErrNotObject = errors.New("config document is not a JSON object")

var emptyDocument = []byte("{}")

// Store reads the operator-maintained config.json that supplies file defaults.
// The file is read on every call so edits take effect on the next mode start.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a store for the config file at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Raw returns the file contents after checking that they hold a JSON object.
func (s *Store) Raw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse %s: invalid JSON", s.path)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("parse %s: %w", s.path, ErrNotObject)
	}
	return data, nil
}

// Defaults returns the file document, or an empty object when the file is
// missing or unreadable. Failures are logged and never returned.
func (s *Store) Defaults() []byte {
	data, err := s.Raw()
	if err != nil {
		s.logger.Warn("config file unavailable, using built-in defaults",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return emptyDocument
	}
	return data
}

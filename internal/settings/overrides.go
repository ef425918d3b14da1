package settings

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidOverrides indicates a control request body that is not a JSON object.
var ErrInvalidOverrides = errors.New("invalid JSON")

// Overrides accumulates operator-supplied parameters across control requests.
// Each merge replaces top-level keys wholesale; keys absent from a request
// keep their previous value.
type Overrides struct {
	mu  sync.RWMutex
	doc []byte
}

// NewOverrides returns an empty override store.
func NewOverrides() *Overrides {
	return &Overrides{doc: []byte("{}")}
}

// Merge folds body into the store. An empty body is accepted and changes nothing.
func (o *Overrides) Merge(body []byte) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if !gjson.ValidBytes(body) {
		return ErrInvalidOverrides
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return fmt.Errorf("%w: expected an object", ErrInvalidOverrides)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	doc := o.doc
	var setErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		doc, setErr = sjson.SetRawBytes(doc, escapeKey(key.String()), []byte(value.Raw))
		return setErr == nil
	})
	if setErr != nil {
		return fmt.Errorf("merge overrides: %w", setErr)
	}
	o.doc = doc
	return nil
}

// Snapshot returns a copy of the accumulated override document.
func (o *Overrides) Snapshot() []byte {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]byte(nil), o.doc...)
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
)

// escapeKey turns an object key into a single-segment sjson path.
func escapeKey(key string) string {
	return pathEscaper.Replace(key)
}

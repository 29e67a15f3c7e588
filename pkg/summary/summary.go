// Package summary persists and emits the machine-readable run summaries.
package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
)

func WriteJSONFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func ReadJSONFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Persist writes v to path. A failure is logged as a warning and reported
// as false; it never fails the run.
func Persist(logger logrus.FieldLogger, prefix, path string, v any) bool {
	if path == "" {
		return false
	}
	if err := WriteJSONFile(path, v); err != nil {
		perr := &domain.PersistenceError{Path: path, Err: err}
		logger.WithError(perr).Warnf("%s Failed to write summary at %s.", prefix, path)
		return false
	}
	logger.Infof("%s Summary written to %s.", prefix, path)
	return true
}

// Emit logs v as indented JSON.
func Emit(logger logrus.FieldLogger, prefix string, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.WithError(err).Warnf("%s Failed to encode summary.", prefix)
		return
	}
	logger.Infof("%s Summary JSON: %s", prefix, bytes.TrimRight(buf.Bytes(), "\n"))
}

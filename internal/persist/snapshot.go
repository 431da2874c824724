// Package persist saves and loads document snapshots.
//
// A snapshot holds the elements in paint order and the viewport state.
// Decoding sniffs the format version, migrates older formats, checks the
// result against a JSON Schema and only then builds elements.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/dshills/whiteboard/internal/element"
	"github.com/dshills/whiteboard/internal/store"
	"github.com/dshills/whiteboard/internal/viewport"
)

// CurrentVersion is the format version written by Marshal.
const CurrentVersion = 2

// Errors.
var (
	ErrMalformed          = errors.New("malformed snapshot")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrDuplicateElement   = errors.New("duplicate element id")
)

// Snapshot is the serializable document state.
type Snapshot struct {
	Version  int                `json:"version"`
	Elements []*element.Element `json:"elements"`
	Viewport viewport.State     `json:"viewport"`
}

// Take captures doc and the viewport state.
func Take(doc *store.Document, vs viewport.State) Snapshot {
	els := doc.Ordered()
	if els == nil {
		els = []*element.Element{}
	}
	return Snapshot{Version: CurrentVersion, Elements: els, Viewport: vs}
}

// IDs returns the element ids in paint order.
func (s Snapshot) IDs() []element.ID {
	out := make([]element.ID, len(s.Elements))
	for i, el := range s.Elements {
		out[i] = el.ID
	}
	return out
}

// Marshal encodes s in the current format.
func Marshal(s Snapshot) ([]byte, error) {
	s.Version = CurrentVersion
	if s.Elements == nil {
		s.Elements = []*element.Element{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a snapshot of any supported version.
func Unmarshal(data []byte) (Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return Snapshot{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	version, err := Version(data)
	if err != nil {
		return Snapshot{}, err
	}
	data, err = Migrate(data, version)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ValidateSchema(data); err != nil {
		return Snapshot{}, err
	}

	// Viewport fields missing from the document keep their defaults.
	vs := viewport.DefaultState()
	var wire struct {
		Version  int                `json:"version"`
		Elements []*element.Element `json:"elements"`
		Viewport *viewport.State    `json:"viewport"`
	}
	wire.Viewport = &vs
	if err := json.Unmarshal(data, &wire); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	seen := make(map[element.ID]bool, len(wire.Elements))
	for _, el := range wire.Elements {
		if seen[el.ID] {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrDuplicateElement, el.ID)
		}
		seen[el.ID] = true
	}

	snap := Snapshot{Version: CurrentVersion, Elements: wire.Elements, Viewport: viewport.DefaultState()}
	if wire.Viewport != nil {
		snap.Viewport = *wire.Viewport
	}
	if snap.Viewport.MinScale > snap.Viewport.MaxScale {
		return Snapshot{}, fmt.Errorf("%w: viewport minScale %g exceeds maxScale %g",
			ErrMalformed, snap.Viewport.MinScale, snap.Viewport.MaxScale)
	}
	if snap.Elements == nil {
		snap.Elements = []*element.Element{}
	}
	return snap, nil
}

// Version returns the format version of data. Documents without a version
// field are version 1 if they carry "shapes".
func Version(data []byte) (int, error) {
	v := gjson.GetBytes(data, "version")
	switch {
	case v.Exists() && v.Type == gjson.Number:
		n := int(v.Int())
		if float64(n) != v.Float() || n < 1 {
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v.Raw)
		}
		if n > CurrentVersion {
			return 0, fmt.Errorf("%w: %d (newest known is %d)", ErrUnsupportedVersion, n, CurrentVersion)
		}
		return n, nil
	case v.Exists():
		return 0, fmt.Errorf("%w: version is %s", ErrMalformed, v.Type)
	case gjson.GetBytes(data, "shapes").Exists():
		return 1, nil
	case gjson.GetBytes(data, "elements").Exists():
		return CurrentVersion, nil
	}
	return 0, fmt.Errorf("%w: no version, shapes or elements", ErrMalformed)
}

// ReadFile loads a snapshot from path.
func ReadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := Unmarshal(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// WriteFile saves s to path, replacing it atomically.
func WriteFile(path string, s Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

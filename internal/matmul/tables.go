package matmul

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

//go:embed tables/default.yaml
var defaultTables []byte

// Family keys in a Tables set.
const (
	FamilyDefault = "default"
	FamilyG715    = "g715"
)

// Layouts holds one value per transpose layout.
type Layouts[T any] struct {
	NTNT T `json:"nt_nt" yaml:"nt_nt"`
	NTT  T `json:"nt_t" yaml:"nt_t"`
	TNT  T `json:"t_nt" yaml:"t_nt"`
	TT   T `json:"t_t" yaml:"t_t"`
}

// Pick returns the entry for the given adjoint flags.
func (l Layouts[T]) Pick(adjLHS, adjRHS bool) T {
	switch {
	case adjLHS && adjRHS:
		return l.TT
	case adjLHS:
		return l.TNT
	case adjRHS:
		return l.NTT
	default:
		return l.NTNT
	}
}

func (l Layouts[T]) each(fn func(name string, v T) error) error {
	for _, e := range []struct {
		name string
		v    T
	}{{"nt_nt", l.NTNT}, {"nt_t", l.NTT}, {"t_nt", l.TNT}, {"t_t", l.TT}} {
		if err := fn(e.name, e.v); err != nil {
			return err
		}
	}
	return nil
}

// TablePair is an optimistic table, whose rows may export the RHS to an
// image, and a fallback table that never does.
type TablePair struct {
	Best     ConfigsMatrix `json:"best" yaml:"best"`
	Fallback ConfigsMatrix `json:"fallback" yaml:"fallback"`
}

// FamilyTables is the configuration set for one GPU family.
type FamilyTables struct {
	F32  Layouts[TablePair]     `json:"f32" yaml:"f32"`
	F16  Layouts[TablePair]     `json:"f16" yaml:"f16"`
	Int8 Layouts[ConfigsMatrix] `json:"int8" yaml:"int8"`
}

// Tables maps a family key to its configurations. FamilyDefault is required.
type Tables map[string]FamilyTables

// Validate checks every table the selector could consult, so a malformed
// file is reported at load time rather than on first use.
func (t Tables) Validate() error {
	if _, ok := t[FamilyDefault]; !ok {
		return fmt.Errorf("tables: missing %q family", FamilyDefault)
	}
	for family, ft := range t {
		for dt, pairs := range map[string]Layouts[TablePair]{"f32": ft.F32, "f16": ft.F16} {
			err := pairs.each(func(layout string, p TablePair) error {
				where := fmt.Sprintf("%s.%s.%s", family, dt, layout)
				if err := checkTable(where+".best", p.Best, true); err != nil {
					return err
				}
				return checkTable(where+".fallback", p.Fallback, false)
			})
			if err != nil {
				return err
			}
		}
		err := ft.Int8.each(func(layout string, m ConfigsMatrix) error {
			return checkTable(fmt.Sprintf("%s.int8.%s", family, layout), m, false)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func checkTable(where string, m ConfigsMatrix, allowImage bool) error {
	if err := m.Check(); err != nil {
		return fmt.Errorf("tables: %s: %w", where, err)
	}
	for i, row := range m {
		for c := colM; c <= colB; c++ {
			if row[c] < 0 {
				return fmt.Errorf("tables: %s: row %d: negative shape value %d", where, i, row[c])
			}
		}
		for c := colM0; c <= colK0; c++ {
			if row[c] <= 0 {
				return fmt.Errorf("tables: %s: row %d: block size %d must be positive", where, i, row[c])
			}
		}
		switch row[colImage] {
		case 0:
		case 1:
			if !allowImage {
				return fmt.Errorf("tables: %s: row %d: image export is not allowed here", where, i)
			}
		default:
			return fmt.Errorf("tables: %s: row %d: image flag must be 0 or 1, got %d", where, i, row[colImage])
		}
	}
	return nil
}

// ParseTables decodes tables in the given format ("yaml" or "json") and
// validates them.
func ParseTables(data []byte, format string) (Tables, error) {
	var t Tables
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("tables: decode yaml: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("tables: decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("tables: unknown format %q", format)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTables reads a table file; the format follows the extension.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}
	return ParseTables(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// DefaultTables returns the built-in tables.
func DefaultTables() Tables {
	t, err := ParseTables(defaultTables, "yaml")
	if err != nil {
		panic(err)
	}
	return t
}

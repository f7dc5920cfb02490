// Package settings loads the per-file-type column mappings and column types
// that define what a destination table should look like.
//
// Two documents drive it, both JSON or YAML:
//
//	column settings: {file_type: {source_column: target_column},
//	                  "__table_names__": {file_type: table}}
//	dtype settings:  {file_type: {source_column: "NVARCHAR(255)", "_date_format": "UK"}}
//
// Declared order matters: it is the column order of the created table and
// the order in which reconciliation reports the first mismatch, so both
// documents are decoded through yaml.Node rather than into Go maps.
package settings

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/stageload/internal/schema"
)

// ErrUnknownFileType is returned for a file type absent from column settings.
var ErrUnknownFileType = errors.New("unknown file type")

const (
	tableNamesKey  = "__table_names__"
	dateFormatKey  = "_date_format"
	dateFormatUS   = "US"
	defaultDType   = "NVARCHAR(255)"
	fallbackDType  = "NVARCHAR(500)"
	metadataPrefix = "_"
)

// Mapping ties one source column to its destination column and type.
type Mapping struct {
	Source string
	Target string
	DType  string // normalized dtype string
}

// FileType is everything the loader needs to know about one logical file type.
type FileType struct {
	Name     string
	Table    string
	DayFirst bool
	Columns  []Mapping
}

// Spec returns the expected column specification in declared order.
func (f *FileType) Spec() []schema.ColumnSpec {
	out := make([]schema.ColumnSpec, 0, len(f.Columns))
	for _, m := range f.Columns {
		out = append(out, schema.Column(m.Target, m.DType))
	}
	return out
}

// Rename maps source column names to destination names.
func (f *FileType) Rename() map[string]string {
	out := make(map[string]string, len(f.Columns))
	for _, m := range f.Columns {
		out[m.Source] = m.Target
	}
	return out
}

// Sources lists the source column names in declared order.
func (f *FileType) Sources() []string {
	out := make([]string, len(f.Columns))
	for i, m := range f.Columns {
		out[i] = m.Source
	}
	return out
}

// Settings is an immutable, loaded settings set.
type Settings struct {
	order []string
	types map[string]*FileType
}

// Load reads and parses both settings documents. A missing dtype document
// is allowed; every column then takes the default type.
func Load(columnPath, dtypePath string) (*Settings, error) {
	columns, err := os.ReadFile(columnPath)
	if err != nil {
		return nil, fmt.Errorf("read column settings: %w", err)
	}

	var dtypes []byte
	if dtypePath != "" {
		dtypes, err = os.ReadFile(dtypePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read dtype settings: %w", err)
		}
	}

	return Parse(columns, dtypes)
}

// Parse builds Settings from document bytes.
func Parse(columnDoc, dtypeDoc []byte) (*Settings, error) {
	columns, err := decodeOrdered(columnDoc)
	if err != nil {
		return nil, fmt.Errorf("parse column settings: %w", err)
	}
	dtypes, err := decodeOrdered(dtypeDoc)
	if err != nil {
		return nil, fmt.Errorf("parse dtype settings: %w", err)
	}

	tableNames := map[string]string{}
	if tn, ok := columns.get(tableNamesKey); ok {
		for _, kv := range tn.pairs {
			tableNames[kv.key] = kv.value.scalar
		}
	}

	s := &Settings{types: map[string]*FileType{}}
	for _, entry := range columns.pairs {
		if IsMetadataKey(entry.key) {
			continue
		}
		if entry.value.pairs == nil && entry.value.scalar != "" {
			return nil, fmt.Errorf("column settings for %q must be a mapping", entry.key)
		}

		ft := &FileType{Name: entry.key, Table: entry.key, DayFirst: true}
		if name := strings.TrimSpace(tableNames[entry.key]); name != "" {
			ft.Table = name
		}

		typeDoc, _ := dtypes.get(entry.key)
		if f, ok := typeDoc.get(dateFormatKey); ok {
			ft.DayFirst = !strings.EqualFold(strings.TrimSpace(f.scalar), dateFormatUS)
		}

		seen := map[string]bool{}
		for _, col := range entry.value.pairs {
			target := strings.TrimSpace(col.value.scalar)
			if target == "" {
				target = col.key
			}
			if seen[strings.ToLower(target)] {
				return nil, fmt.Errorf("file type %q maps two columns to %q", entry.key, target)
			}
			seen[strings.ToLower(target)] = true

			raw := ""
			if d, ok := typeDoc.get(col.key); ok {
				raw = d.scalar
			}
			ft.Columns = append(ft.Columns, Mapping{
				Source: col.key,
				Target: target,
				DType:  NormalizeDType(raw),
			})
		}

		s.order = append(s.order, ft.Name)
		s.types[ft.Name] = ft
	}

	return s, nil
}

// FileTypes lists file types in declared order.
func (s *Settings) FileTypes() []string {
	return append([]string(nil), s.order...)
}

// Lookup returns the named file type.
func (s *Settings) Lookup(name string) (*FileType, error) {
	ft, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFileType, name)
	}
	return ft, nil
}

// Tables returns the distinct destination table names, sorted.
func (s *Settings) Tables() []string {
	set := map[string]bool{}
	for _, ft := range s.types {
		set[ft.Table] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ordered is a decoded document node that keeps mapping order.
type ordered struct {
	scalar string
	pairs  []pair
}

type pair struct {
	key   string
	value ordered
}

func (o ordered) get(key string) (ordered, bool) {
	for _, p := range o.pairs {
		if p.key == key {
			return p.value, true
		}
	}
	return ordered{}, false
}

func decodeOrdered(doc []byte) (ordered, error) {
	if len(strings.TrimSpace(string(doc))) == 0 {
		return ordered{}, nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return ordered{}, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return ordered{}, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return ordered{}, fmt.Errorf("line %d: top level must be a mapping", top.Line)
	}
	return fromNode(top), nil
}

func fromNode(n *yaml.Node) ordered {
	switch n.Kind {
	case yaml.MappingNode:
		o := ordered{pairs: make([]pair, 0, len(n.Content)/2)}
		for i := 0; i+1 < len(n.Content); i += 2 {
			o.pairs = append(o.pairs, pair{key: n.Content[i].Value, value: fromNode(n.Content[i+1])})
		}
		return o
	case yaml.AliasNode:
		if n.Alias != nil {
			return fromNode(n.Alias)
		}
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return ordered{}
		}
		return ordered{scalar: n.Value}
	}
	return ordered{}
}

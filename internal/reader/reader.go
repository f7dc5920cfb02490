// Package reader turns uploaded CSV files into load rows.
//
// Input is decoded through golang.org/x/text transforms: a UTF-8 byte order
// mark (or a UTF-16 one, for files saved by Excel as "Unicode text") is
// honored and stripped, and invalid UTF-8 is replaced rather than rejected.
// Headers are matched to settings leniently, so "Order ID", "order id" and
// "OrderID" all find the same mapping.
package reader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JonMunkholm/stageload/internal/core"
	"github.com/JonMunkholm/stageload/internal/settings"
	"github.com/JonMunkholm/stageload/internal/store"
)

// Errors returned by Read. Their text matches the operator error table.
var (
	ErrEmptyFile   = errors.New("empty file: no header row")
	ErrUnsupported = errors.New("invalid csv: only .csv files are supported")
)

// headerScanRows is how many leading rows may hold the header. Exports
// sometimes put a title line above it.
const headerScanRows = 2

// File is a parsed CSV file.
type File struct {
	Name    string
	Headers []string
	Records [][]string
}

// decoder strips a UTF-8 or UTF-16 BOM and decodes accordingly. Without
// a BOM the input is read as UTF-8 with invalid bytes replaced by U+FFFD.
func decoder() transform.Transformer {
	return xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
}

// Read parses CSV from r. Ragged rows are allowed, quotes are lenient and
// rows whose cells are all blank are skipped.
func Read(name string, r io.Reader) (*File, error) {
	decoded := transform.NewReader(r, decoder())

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	f := &File{Name: name}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv %s: %w", name, err)
		}
		if blank(rec) {
			continue
		}
		if f.Headers == nil {
			f.Headers = rec
			continue
		}
		f.Records = append(f.Records, rec)
	}
	if f.Headers == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyFile)
	}
	return f, nil
}

// ReadFile opens and parses a .csv file.
func ReadFile(path string) (*File, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupported)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Read(filepath.Base(path), fh)
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Standardize turns a header into a column name: trimmed, lower-cased,
// accents stripped, runs of anything but letters, digits and underscores
// collapsed to "_", and leading or trailing "_" removed.
//
//	Standardize("  Café Total (USD) ") == "cafe_total_usd"
func Standardize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = nonWord.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// matchKey is the lenient form used to compare headers with settings:
// lower-cased with spaces and zero-width spaces removed.
func matchKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "\u200b", "")
}

// DetectFileType returns the first file type, in declared order, whose
// source columns all appear in the header or, failing that, in the first
// data row. When the match is on the data row, f is rebased so that row
// becomes the header.
func DetectFileType(f *File, s *settings.Settings) (string, bool) {
	candidates := [][]string{f.Headers}
	for i := 0; i < headerScanRows-1 && i < len(f.Records); i++ {
		candidates = append(candidates, f.Records[i])
	}

	for _, name := range s.FileTypes() {
		ft, err := s.Lookup(name)
		if err != nil {
			continue
		}
		for i, row := range candidates {
			if !containsAll(row, ft.Sources()) {
				continue
			}
			if i > 0 {
				f.Headers = f.Records[i-1]
				f.Records = f.Records[i:]
			}
			return name, true
		}
	}
	return "", false
}

func containsAll(row, sources []string) bool {
	if len(sources) == 0 {
		return false
	}
	have := make(map[string]bool, len(row))
	for _, c := range row {
		have[matchKey(c)] = true
	}
	for _, src := range sources {
		if !have[matchKey(src)] {
			return false
		}
	}
	return true
}

// Rows renames headers through ft's mapping and returns one row per
// record. Unmapped headers keep their standardized name; the pipeline
// ignores them. A mapped column owns its target name even when an
// unmapped header standardizes to the same name. Null tokens become nil.
func Rows(f *File, ft *settings.FileType) []core.Row {
	targets := make(map[string]string, len(ft.Columns))
	for _, m := range ft.Columns {
		targets[matchKey(m.Source)] = m.Target
	}

	type field struct {
		index int
		name  string
	}
	var fields []field
	taken := make(map[string]bool, len(f.Headers))
	add := func(i int, name string) {
		if name == "" || taken[name] {
			return
		}
		taken[name] = true
		fields = append(fields, field{i, name})
	}
	for i, h := range f.Headers {
		if t, ok := targets[matchKey(h)]; ok {
			add(i, t)
		}
	}
	for i, h := range f.Headers {
		if _, ok := targets[matchKey(h)]; !ok {
			add(i, Standardize(h))
		}
	}

	rows := make([]core.Row, 0, len(f.Records))
	for _, rec := range f.Records {
		row := make(core.Row, len(fields))
		for _, fd := range fields {
			if fd.index >= len(rec) || core.IsNullToken(rec[fd.index]) {
				row[fd.name] = nil
				continue
			}
			row[fd.name] = rec[fd.index]
		}
		rows = append(rows, row)
	}
	return rows
}

// MissingColumns lists source columns of ft absent from the header.
func MissingColumns(f *File, ft *settings.FileType) []string {
	have := make(map[string]bool, len(f.Headers))
	for _, h := range f.Headers {
		have[matchKey(h)] = true
	}
	var missing []string
	for _, src := range ft.Sources() {
		if !have[matchKey(src)] {
			missing = append(missing, src)
		}
	}
	return missing
}

// Request builds the load request for f as file type ft. A table name
// without a schema lands in defaultSchema.
func Request(f *File, ft *settings.FileType, defaultSchema string) core.LoadRequest {
	return core.LoadRequest{
		Table:    store.ParseTable(ft.Table, defaultSchema),
		Rows:     Rows(f, ft),
		Spec:     ft.Spec(),
		DayFirst: ft.DayFirst,
		Source:   f.Name,
	}
}

package reader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/stageload/internal/settings"
)

const columnsYAML = `
sales_report:
  Order ID: order_id
  Amount: amount
  Order Date: ordered_at
orders_lite:
  Order ID: order_id
`

func loadSettings(t *testing.T) *settings.Settings {
	t.Helper()
	s, err := settings.Parse([]byte(columnsYAML), nil)
	require.NoError(t, err)
	return s
}

func TestRead(t *testing.T) {
	input := "\xEF\xBB\xBFOrder ID,Amount,Order Date\n" +
		"A-1,\"1,200.50\",14/07/2025\n" +
		",,\n" +
		"A-2,NULL\n"

	f, err := Read("sales.csv", strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"Order ID", "Amount", "Order Date"}, f.Headers, "BOM stripped from the first header")
	require.Len(t, f.Records, 2, "blank row skipped")
	assert.Equal(t, []string{"A-1", "1,200.50", "14/07/2025"}, f.Records[0])
	assert.Equal(t, []string{"A-2", "NULL"}, f.Records[1], "ragged row kept")
}

func TestRead_InvalidUTF8IsReplaced(t *testing.T) {
	f, err := Read("bad.csv", strings.NewReader("name\nab\xffc\n"))
	require.NoError(t, err)
	assert.Equal(t, "ab\uFFFDc", f.Records[0][0])
}

func TestRead_UTF16WithBOM(t *testing.T) {
	// "a,b\n1,2\n" as UTF-16LE with a BOM.
	raw := []byte{0xFF, 0xFE}
	for _, r := range "a,b\n1,2\n" {
		raw = append(raw, byte(r), 0)
	}
	f, err := Read("u16.csv", strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, f.Headers)
	assert.Equal(t, [][]string{{"1", "2"}}, f.Records)
}

func TestRead_Empty(t *testing.T) {
	_, err := Read("empty.csv", strings.NewReader("\n\n"))
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.CSV")
	require.NoError(t, os.WriteFile(path, []byte("Order ID\nA-1\n"), 0o644))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "orders.CSV", f.Name)
	assert.Len(t, f.Records, 1)

	_, err = ReadFile(filepath.Join(dir, "orders.xlsx"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestStandardize(t *testing.T) {
	tests := map[string]string{
		"  Order ID ":        "order_id",
		"Café Total (USD)":   "cafe_total_usd",
		"__already_clean__":  "already_clean",
		"Amount - Net/Gross": "amount_net_gross",
		"ยอดขาย":             "ยอดขาย",
		"%":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Standardize(in), "Standardize(%q)", in)
	}
}

func TestDetectFileType(t *testing.T) {
	s := loadSettings(t)

	f := &File{Headers: []string{"order id", "AMOUNT", "OrderDate", "extra"}}
	name, ok := DetectFileType(f, s)
	require.True(t, ok)
	assert.Equal(t, "sales_report", name, "first declared type whose columns are all present")

	f = &File{Headers: []string{"Order ID", "Other"}}
	name, ok = DetectFileType(f, s)
	require.True(t, ok)
	assert.Equal(t, "orders_lite", name)

	f = &File{Headers: []string{"Nothing"}}
	_, ok = DetectFileType(f, s)
	assert.False(t, ok)
}

func TestDetectFileType_TitleRowAboveHeader(t *testing.T) {
	s := loadSettings(t)
	f := &File{
		Headers: []string{"Monthly sales export"},
		Records: [][]string{
			{"Order ID", "Amount", "Order Date"},
			{"A-1", "10", "2025-07-14"},
		},
	}

	name, ok := DetectFileType(f, s)
	require.True(t, ok)
	assert.Equal(t, "sales_report", name)
	assert.Equal(t, []string{"Order ID", "Amount", "Order Date"}, f.Headers)
	assert.Equal(t, [][]string{{"A-1", "10", "2025-07-14"}}, f.Records)
}

func TestRows(t *testing.T) {
	s := loadSettings(t)
	ft, err := s.Lookup("sales_report")
	require.NoError(t, err)

	f := &File{
		Headers: []string{"Order ID", "amount", "Order Date", "Sales Rep"},
		Records: [][]string{
			{"A-1", "10", "2025-07-14", "Kim"},
			{"A-2", "nan", ""},
		},
	}
	rows := Rows(f, ft)
	require.Len(t, rows, 2)

	assert.Equal(t, "A-1", rows[0]["order_id"])
	assert.Equal(t, "10", rows[0]["amount"])
	assert.Equal(t, "Kim", rows[0]["sales_rep"], "unmapped header standardized")

	assert.Nil(t, rows[1]["amount"])
	assert.Nil(t, rows[1]["ordered_at"])
	assert.Nil(t, rows[1]["sales_rep"], "short record pads with nil")

	assert.Empty(t, MissingColumns(f, ft))
	assert.Equal(t, []string{"Order Date"}, MissingColumns(&File{Headers: []string{"Order ID", "Amount"}}, ft))
}

func TestRows_MappedColumnWinsName(t *testing.T) {
	s := loadSettings(t)
	ft, err := s.Lookup("sales_report")
	require.NoError(t, err)

	f := &File{
		Headers: []string{"Ordered At", "Order ID", "Amount", "Order Date", "Note", "note"},
		Records: [][]string{{"stale", "A-1", "10", "2025-07-14", "first", "second"}},
	}
	rows := Rows(f, ft)
	require.Len(t, rows, 1)

	assert.Equal(t, "2025-07-14", rows[0]["ordered_at"], "mapped Order Date owns ordered_at")
	assert.Equal(t, "first", rows[0]["note"], "first unmapped duplicate kept")
	assert.Len(t, rows[0], 4)
}

func TestRequest(t *testing.T) {
	doc := columnsYAML + "__table_names__:\n  sales_report: sales.orders\n"
	s, err := settings.Parse([]byte(doc), []byte("sales_report:\n  Amount: float\n  _date_format: US\n"))
	require.NoError(t, err)

	f := &File{
		Name:    "july.csv",
		Headers: []string{"Order ID", "Amount", "Order Date"},
		Records: [][]string{{"A-1", "10", "07/14/2025"}},
	}

	ft, err := s.Lookup("sales_report")
	require.NoError(t, err)
	req := Request(f, ft, "stage")
	assert.Equal(t, "sales.orders", req.Table.String(), "qualified table keeps its schema")
	assert.Equal(t, "july.csv", req.Source)
	assert.False(t, req.DayFirst)
	require.Len(t, req.Spec, 3)
	assert.Equal(t, "amount", req.Spec[1].Name)
	assert.Equal(t, 1, req.RowCount())

	lite, err := s.Lookup("orders_lite")
	require.NoError(t, err)
	assert.Equal(t, "stage.orders_lite", Request(f, lite, "stage").Table.String())
}

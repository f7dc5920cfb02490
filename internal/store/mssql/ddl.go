package mssql

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// SQL Server caps on inline string lengths; anything wider must be MAX.
const (
	maxNVarChar = 4000
	maxVarChar  = 8000

	// maxParams is one below the 2100 parameter limit of a request.
	maxParams = 2099
	// maxValuesRows is the row cap of a single table value constructor.
	maxValuesRows = 1000
)

// quoteIdent quotes a SQL Server identifier using [brackets], escaping ].
func quoteIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// quoteTable renders [schema].[name].
func quoteTable(t store.Table) string {
	if t.Schema == "" {
		return quoteIdent(t.Name)
	}
	return quoteIdent(t.Schema) + "." + quoteIdent(t.Name)
}

func quoteIdents(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return out
}

// nativeType renders the T-SQL type for an expected column.
func nativeType(c schema.ColumnSpec) string {
	t := c.Type
	switch schema.Classify(t) {
	case schema.String:
		capacity := schema.CapacityOf(t)
		base := "NVARCHAR"
		limit := maxNVarChar
		if t.Base == "VARCHAR" || t.Base == "CHAR" {
			base, limit = "VARCHAR", maxVarChar
		}
		switch {
		case capacity == schema.Unbounded:
			return base + "(MAX)"
		case capacity == schema.Unknown:
			return base + "(255)"
		case int(capacity) > limit:
			return base + "(MAX)"
		case capacity == 0:
			return base + "(1)"
		}
		return base + "(" + strconv.Itoa(int(capacity)) + ")"

	case schema.Numeric:
		switch t.Base {
		case "INT", "INTEGER", "INT4":
			return "INT"
		case "BIGINT", "INT8":
			return "BIGINT"
		case "SMALLINT", "INT2":
			return "SMALLINT"
		case "TINYINT":
			return "TINYINT"
		case "REAL", "FLOAT4":
			return "REAL"
		case "MONEY", "SMALLMONEY":
			return t.Base
		case "DECIMAL", "NUMERIC":
			if t.Precision > 0 {
				return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
			}
			return "DECIMAL(18,2)"
		}
		return "FLOAT"

	case schema.DateTime:
		switch t.Base {
		case "DATE":
			return "DATE"
		case "DATETIME", "SMALLDATETIME":
			return t.Base
		case "TIME", "TIME WITHOUT TIME ZONE", "TIME WITH TIME ZONE":
			return "TIME"
		case "DATETIMEOFFSET", "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ":
			return "DATETIMEOFFSET"
		}
		return "DATETIME2"

	case schema.Boolean:
		return "BIT"
	}

	if t.Base == "" {
		return "NVARCHAR(255)"
	}
	return strings.ToUpper(strings.TrimSpace(t.Raw))
}

// liveType renders an INFORMATION_SCHEMA row as a type string the
// classifier understands, e.g. nvarchar(max) or decimal(18,2).
func liveType(dataType string, maxLen, precision, scale sql.NullInt64) string {
	dt := strings.ToLower(strings.TrimSpace(dataType))
	switch dt {
	case "char", "nchar", "varchar", "nvarchar", "binary", "varbinary":
		if !maxLen.Valid {
			return dt
		}
		if maxLen.Int64 < 0 {
			return dt + "(max)"
		}
		return dt + "(" + strconv.FormatInt(maxLen.Int64, 10) + ")"
	case "decimal", "numeric":
		if precision.Valid {
			return fmt.Sprintf("%s(%d,%d)", dt, precision.Int64, scale.Int64)
		}
	}
	return dt
}

// createTableSQL drops and rebuilds t. Columns are nullable and keep
// declared order.
func createTableSQL(t store.Table, cols []schema.ColumnSpec) (string, error) {
	if t.Name == "" {
		return "", fmt.Errorf("mssql ddl: table name must not be empty")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("mssql ddl: at least one column is required")
	}

	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("mssql ddl: column with empty name in table %s", t)
		}
		defs = append(defs, quoteIdent(name)+" "+nativeType(c)+" NULL")
	}

	fqn := quoteTable(t)
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NOT NULL\n  DROP TABLE %s;\nCREATE TABLE %s (\n    %s\n);",
		strings.ReplaceAll(fqn, "'", "''"), fqn, fqn, strings.Join(defs, ",\n    "),
	), nil
}

func alterColumnSQL(t store.Table, c schema.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NULL", quoteTable(t), quoteIdent(c.Name), nativeType(c))
}

// ensureSchemaSQL creates the schema when SCHEMA_ID finds nothing. CREATE
// SCHEMA must be alone in its batch, hence the EXEC.
const ensureSchemaSQL = `DECLARE @stmt nvarchar(400) = N'CREATE SCHEMA ' + QUOTENAME(@p1);
IF SCHEMA_ID(@p1) IS NULL EXEC(@stmt);`

const columnsSQL = `SELECT c.COLUMN_NAME, c.DATA_TYPE, c.CHARACTER_MAXIMUM_LENGTH,
       c.NUMERIC_PRECISION, c.NUMERIC_SCALE
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION`

const privilegesSQL = `SELECT
  HAS_PERMS_BY_NAME(DB_NAME(), 'DATABASE', 'CREATE SCHEMA'),
  HAS_PERMS_BY_NAME(DB_NAME(), 'DATABASE', 'CREATE TABLE'),
  SCHEMA_ID(@p1),
  HAS_PERMS_BY_NAME(@p1, 'SCHEMA', 'ALTER'),
  HAS_PERMS_BY_NAME(@p1, 'SCHEMA', 'INSERT'),
  HAS_PERMS_BY_NAME(@p1, 'SCHEMA', 'DELETE')`

// rowsPerInsert is how many rows fit in one INSERT under the parameter and
// VALUES row limits.
func rowsPerInsert(ncols int) int {
	if ncols <= 0 {
		return 0
	}
	n := maxParams / ncols
	if n > maxValuesRows {
		n = maxValuesRows
	}
	if n < 1 {
		n = 1
	}
	return n
}

// insertSQL renders a multi-row INSERT with @pN placeholders.
func insertSQL(t store.Table, cols []string, nrows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteTable(t), strings.Join(quoteIdents(cols), ", "))
	p := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			p++
		}
		b.WriteByte(')')
	}
	return b.String()
}

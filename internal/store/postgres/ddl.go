package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/stageload/internal/schema"
	"github.com/JonMunkholm/stageload/internal/store"
)

// maxVarChar is the largest length PostgreSQL accepts for varchar(n).
const maxVarChar = 10485760

func identifier(t store.Table) pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Name}
	}
	return pgx.Identifier{t.Schema, t.Name}
}

func quoteTable(t store.Table) string { return identifier(t).Sanitize() }

func quoteIdent(name string) string { return pgx.Identifier{name}.Sanitize() }

// nativeType renders the PostgreSQL type for an expected column.
func nativeType(c schema.ColumnSpec) string {
	t := c.Type
	switch schema.Classify(t) {
	case schema.String:
		capacity := schema.CapacityOf(t)
		switch {
		case capacity == schema.Unbounded, int(capacity) > maxVarChar:
			return "text"
		case capacity == schema.Unknown:
			return "varchar(255)"
		case capacity == 0:
			return "varchar(1)"
		}
		return "varchar(" + strconv.Itoa(int(capacity)) + ")"

	case schema.Numeric:
		switch t.Base {
		case "INT", "INTEGER", "INT4":
			return "integer"
		case "BIGINT", "INT8":
			return "bigint"
		case "SMALLINT", "INT2", "TINYINT":
			return "smallint"
		case "REAL", "FLOAT4":
			return "real"
		case "MONEY", "SMALLMONEY":
			return "money"
		case "DECIMAL", "NUMERIC":
			if t.Precision > 0 {
				return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
			}
			return "numeric(18,2)"
		}
		return "double precision"

	case schema.DateTime:
		switch t.Base {
		case "DATE":
			return "date"
		case "TIME", "TIME WITHOUT TIME ZONE":
			return "time"
		case "DATETIMEOFFSET", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
			return "timestamptz"
		}
		return "timestamp"

	case schema.Boolean:
		return "boolean"
	}

	if t.Base == "" {
		return "varchar(255)"
	}
	return strings.ToLower(strings.TrimSpace(t.Raw))
}

// liveType renders an information_schema.columns row as a type string the
// classifier understands.
func liveType(dataType string, maxLen, precision, scale *int64) string {
	dt := strings.ToLower(strings.TrimSpace(dataType))
	switch dt {
	case "character varying", "character":
		if maxLen == nil {
			if dt == "character varying" {
				return "text"
			}
			return dt
		}
		return fmt.Sprintf("%s(%d)", dt, *maxLen)
	case "numeric":
		if precision != nil {
			s := int64(0)
			if scale != nil {
				s = *scale
			}
			return fmt.Sprintf("numeric(%d,%d)", *precision, s)
		}
	}
	return dt
}

func createTableSQL(t store.Table, cols []schema.ColumnSpec) (string, error) {
	if t.Name == "" {
		return "", fmt.Errorf("postgres ddl: table name must not be empty")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("postgres ddl: at least one column is required")
	}
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("postgres ddl: column with empty name in table %s", t)
		}
		defs = append(defs, quoteIdent(name)+" "+nativeType(c))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", quoteTable(t), strings.Join(defs, ",\n    ")), nil
}

func alterColumnSQL(t store.Table, c schema.ColumnSpec) string {
	typ := nativeType(c)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		quoteTable(t), quoteIdent(c.Name), typ, quoteIdent(c.Name), typ)
}

func insertSQL(t store.Table, cols []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTable(t), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

const columnsSQL = `SELECT column_name, data_type, character_maximum_length,
       numeric_precision, numeric_scale
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

const privilegesSQL = `SELECT
  has_database_privilege(current_database(), 'CREATE'),
  EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1),
  COALESCE((SELECT has_schema_privilege(oid, 'CREATE') FROM pg_namespace WHERE nspname = $1), false),
  COALESCE((SELECT has_schema_privilege(oid, 'USAGE') FROM pg_namespace WHERE nspname = $1), false)`

package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/andys/listimport/schema"
)

// column is one row of the information_schema query
type column struct {
	name      string
	dataType  string
	udtName   string // MySQL: full COLUMN_TYPE. Postgres: udt_name
	isPrimary bool
}

// ListFields returns the columns of the list's table. MySQL ENUM and
// Postgres enum columns are choice fields; MySQL SET and Postgres enum
// array columns are multi-choice fields.
func (c *Connection) ListFields(ctx context.Context, list string) ([]schema.Field, error) {
	switch c.Type {
	case MySQL:
		return c.getMySQLFields(ctx, list)
	case PostgreSQL:
		return c.getPostgresFields(ctx, list)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

func (c *Connection) getMySQLFields(ctx context.Context, list string) ([]schema.Field, error) {
	query := `
        SELECT
            c.COLUMN_NAME,
            c.DATA_TYPE,
            c.COLUMN_TYPE,
            CASE WHEN c.COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END as IS_PRIMARY
        FROM information_schema.COLUMNS c
        WHERE c.TABLE_SCHEMA = DATABASE()
            AND c.TABLE_NAME = ?
        ORDER BY c.ORDINAL_POSITION`

	columns, err := c.queryColumns(ctx, query, list)
	if err != nil {
		return nil, err
	}

	fields := make([]schema.Field, 0, len(columns))
	for _, col := range columns {
		field := schema.Field{
			Name: col.name,
			Type: col.dataType,
			IsID: col.isPrimary && col.name == "id",
		}
		switch strings.ToLower(col.dataType) {
		case "enum":
			field.Kind = schema.Choice
			field.Choices = schema.NewChoiceSet(parseEnumValues(col.udtName)...)
		case "set":
			field.Kind = schema.MultiChoice
			field.Choices = schema.NewChoiceSet(parseEnumValues(col.udtName)...)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func (c *Connection) getPostgresFields(ctx context.Context, list string) ([]schema.Field, error) {
	query := `
        SELECT
            c.column_name,
            c.data_type,
            c.udt_name,
            CASE WHEN pk.column_name IS NOT NULL THEN 1 ELSE 0 END as is_primary
        FROM information_schema.columns c
        LEFT JOIN (
            SELECT tc.table_name, kcu.column_name
            FROM information_schema.table_constraints tc
            JOIN information_schema.key_column_usage kcu
                ON tc.constraint_name = kcu.constraint_name
            WHERE tc.constraint_type = 'PRIMARY KEY'
        ) pk ON c.table_name = pk.table_name
            AND c.column_name = pk.column_name
        WHERE c.table_schema = 'public'
            AND c.table_name = $1
        ORDER BY c.ordinal_position`

	columns, err := c.queryColumns(ctx, query, list)
	if err != nil {
		return nil, err
	}

	fields := make([]schema.Field, 0, len(columns))
	for _, col := range columns {
		field := schema.Field{
			Name: col.name,
			Type: col.dataType,
			IsID: col.isPrimary && col.name == "id",
		}

		var kind schema.Kind
		var enumType string
		switch col.dataType {
		case "USER-DEFINED":
			kind, enumType = schema.Choice, col.udtName
		case "ARRAY":
			// Array types are named after their element type with a leading underscore
			kind, enumType = schema.MultiChoice, strings.TrimPrefix(col.udtName, "_")
		}
		if enumType != "" {
			labels, err := c.enumLabels(ctx, enumType)
			if err != nil {
				return nil, err
			}
			if len(labels) > 0 {
				field.Kind = kind
				field.Type = col.udtName
				field.Choices = schema.NewChoiceSet(labels...)
			}
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func (c *Connection) queryColumns(ctx context.Context, query string, args ...interface{}) ([]column, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema: %w", classifyError(err))
	}
	defer rows.Close()

	columns := make([]column, 0)
	for rows.Next() {
		var col column
		if err := rows.Scan(&col.name, &col.dataType, &col.udtName, &col.isPrimary); err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema rows: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("list not found: %s", args[0])
	}
	return columns, nil
}

// enumLabels returns the labels of a Postgres enum type in declaration order.
// Non-enum types have no labels.
func (c *Connection) enumLabels(ctx context.Context, typeName string) ([]string, error) {
	query := `
        SELECT e.enumlabel
        FROM pg_type t
        JOIN pg_enum e ON e.enumtypid = t.oid
        WHERE t.typname = $1
        ORDER BY e.enumsortorder`

	rows, err := c.db.QueryContext(ctx, query, typeName)
	if err != nil {
		return nil, fmt.Errorf("failed to query enum labels for %s: %w", typeName, classifyError(err))
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan enum label: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enum labels: %w", err)
	}
	return labels, nil
}

// parseEnumValues extracts the quoted values from a MySQL column type such
// as enum('a','b') or set('x','y'). Doubled quotes inside a value are unescaped.
func parseEnumValues(columnType string) []string {
	open := strings.Index(columnType, "(")
	end := strings.LastIndex(columnType, ")")
	if open < 0 || end <= open {
		return nil
	}
	body := columnType[open+1 : end]

	var values []string
	var sb strings.Builder
	inQuote := false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '\'' && !inQuote:
			inQuote = true
			sb.Reset()
		case ch == '\'' && inQuote:
			if i+1 < len(body) && body[i+1] == '\'' {
				sb.WriteByte('\'')
				i++
				continue
			}
			inQuote = false
			values = append(values, sb.String())
		case ch == '\\' && inQuote && i+1 < len(body):
			i++
			sb.WriteByte(body[i])
		case inQuote:
			sb.WriteByte(ch)
		}
	}
	return values
}

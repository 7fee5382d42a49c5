package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/andys/listimport/store"
)

func escapeIdentifier(identifier string, dbType DBType) string {
	switch dbType {
	case MySQL:
		return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
	case PostgreSQL:
		return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
	default:
		return identifier
	}
}

func escapeIdentifiers(identifiers []string, dbType DBType) []string {
	escaped := make([]string, len(identifiers))
	for i, id := range identifiers {
		escaped[i] = escapeIdentifier(id, dbType)
	}
	return escaped
}

func (c *Connection) placeholder(n int) string {
	if c.Type == PostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// value converts a field value for the driver. Multi-choice values become
// a comma separated SET literal on MySQL and an array on Postgres.
func (c *Connection) value(v interface{}) interface{} {
	values, ok := v.([]string)
	if !ok {
		return v
	}
	if c.Type == PostgreSQL {
		return pq.Array(values)
	}
	return strings.Join(values, ",")
}

// insertQuery builds the statement creating one item, with columns in name order
func (c *Connection) insertQuery(list string, item store.Item) (string, []interface{}) {
	columns := make([]string, 0, len(item))
	for name := range item {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	values := make([]interface{}, len(columns))
	for i, name := range columns {
		placeholders[i] = c.placeholder(i + 1)
		values[i] = c.value(item[name])
	}

	table := escapeIdentifier(list, c.Type)
	var query string
	switch {
	case len(columns) == 0 && c.Type == PostgreSQL:
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	case len(columns) == 0:
		query = fmt.Sprintf("INSERT INTO %s () VALUES ()", table)
	default:
		query = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			table,
			strings.Join(escapeIdentifiers(columns, c.Type), ", "),
			strings.Join(placeholders, ", "),
		)
	}
	if c.Type == PostgreSQL {
		query += " RETURNING " + escapeIdentifier("id", c.Type)
	}
	return query, values
}

// CreateItems inserts every item in a single transaction. Any failure rolls
// the whole batch back, so results never carry per-item errors.
func (c *Connection) CreateItems(ctx context.Context, list string, items []store.Item) ([]store.ItemResult, error) {
	if c.db == nil {
		return nil, fmt.Errorf("sql: database is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	results := make([]store.ItemResult, len(items))
	for i, item := range items {
		query, values := c.insertQuery(list, item)
		c.logSQL(query)

		id, err := c.insert(ctx, tx, query, values)
		if err != nil {
			return nil, fmt.Errorf("failed to insert item %d of %d: %w", i+1, len(items), classifyError(err))
		}
		results[i] = store.ItemResult{ID: id}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}
	return results, nil
}

func (c *Connection) insert(ctx context.Context, tx *sql.Tx, query string, values []interface{}) (int64, error) {
	if c.Type == PostgreSQL {
		var id int64
		err := tx.QueryRowContext(ctx, query, values...).Scan(&id)
		return id, err
	}

	res, err := tx.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// OverwriteTimestamps sets the created/modified columns of existing items in
// a single transaction. Only those two columns are written.
func (c *Connection) OverwriteTimestamps(ctx context.Context, list string, updates []store.TimestampUpdate) error {
	if c.db == nil {
		return fmt.Errorf("sql: database is closed")
	}
	if c.cfg == nil || c.cfg.CreatedField == "" || c.cfg.ModifiedField == "" {
		return fmt.Errorf("created and modified fields are not configured")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	for _, u := range updates {
		var sets []string
		var values []interface{}
		if !u.Created.IsZero() {
			values = append(values, u.Created)
			sets = append(sets, fmt.Sprintf("%s = %s", escapeIdentifier(c.cfg.CreatedField, c.Type), c.placeholder(len(values))))
		}
		if !u.Modified.IsZero() {
			values = append(values, u.Modified)
			sets = append(sets, fmt.Sprintf("%s = %s", escapeIdentifier(c.cfg.ModifiedField, c.Type), c.placeholder(len(values))))
		}
		if len(sets) == 0 {
			continue
		}
		values = append(values, u.ID)

		query := fmt.Sprintf(
			"UPDATE %s SET %s WHERE %s = %s",
			escapeIdentifier(list, c.Type),
			strings.Join(sets, ", "),
			escapeIdentifier("id", c.Type),
			c.placeholder(len(values)),
		)
		c.logSQL(query)

		if _, err := tx.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to update item %d: %w", u.ID, classifyError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}
	return nil
}

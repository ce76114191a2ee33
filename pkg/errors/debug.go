package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// DumpFields flattens an error chain into structured log fields: the typed
// app code when one is present, every wrapped layer, and Postgres diagnostics
// from either the pgx or lib/pq driver. Workers attach these to failure logs
// so a SQLSTATE or violated constraint survives into the log line.
func DumpFields(err error) map[string]any {
	if err == nil {
		return nil
	}

	fields := map[string]any{}

	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.Code())
	}

	var chain []string
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	if len(chain) > 0 {
		fields["error_chain"] = chain
	}

	code, constraint, table, detail := pgDiagnostics(err)
	if code != "" {
		fields["sqlstate"] = code
	}
	if constraint != "" {
		fields["pg_constraint"] = constraint
	}
	if table != "" {
		fields["pg_table"] = table
	}
	if detail != "" {
		fields["pg_detail"] = detail
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

func pgDiagnostics(err error) (code, constraint, table, detail string) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}

	return "", "", "", ""
}

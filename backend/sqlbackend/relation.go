package sqlbackend

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

// rowCol is the hidden row-order key carried by every relation. Values are
// distinct and increasing in row order but need not be dense.
const rowCol = "__dfb_row"

// insertParams bounds the bind parameters of one INSERT statement.
const insertParams = 30000

// Relation is a deferred SQL query: building and lowering a Relation never
// touches the database. The query selects rowCol followed by the schema
// columns in order.
type Relation struct {
	db     *DB
	ds     *goqu.SelectDataset
	schema dtype.Schema
	// ordered is false for tables read without an order: their row key is
	// arbitrary and order-sensitive operations are rejected.
	ordered bool
	// stages are filled, in order, before the query runs.
	stages []stage
}

// stage is a temporary table holding an ordered intermediate result. SQLite
// assigns rowids in insertion order, so reading the table back by rowid
// recovers the order without window functions.
type stage struct {
	table string
	fill  *goqu.SelectDataset
	order []exp.Expression
}

// statement renders the CREATE TABLE ... AS SELECT that fills the stage.
func (s stage) statement(builder goqu.DialectWrapper) (string, []any, error) {
	q, args, err := s.fill.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, err
	}
	ord, oargs, err := builder.Select(joined(", ", s.order...)).Prepared(true).ToSQL()
	if err != nil {
		return "", nil, err
	}
	stmt := fmt.Sprintf("CREATE TEMPORARY TABLE %s AS %s ORDER BY %s",
		quoteIdent(s.table), q, strings.TrimPrefix(ord, "SELECT "))
	return stmt, append(args, oargs...), nil
}

// withStages returns the union of a and b in order, without duplicates.
func withStages(a, b []stage) []stage {
	out := make([]stage, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range append(append([]stage(nil), a...), b...) {
		if !seen[s.table] {
			seen[s.table] = true
			out = append(out, s)
		}
	}
	return out
}

// prepare fills the stages of r. Stage statements are not relation queries
// and are not counted.
func (r *Relation) prepare(ctx context.Context, logger backend.Logger) error {
	for _, s := range r.stages {
		stmt, args, err := s.statement(r.db.builder)
		if err != nil {
			return err
		}
		if err := r.db.exec(ctx, logger, "DROP TABLE IF EXISTS "+quoteIdent(s.table), nil); err != nil {
			return nativeError(r.db.dialect.Tag(), "collect", err)
		}
		if err := r.db.exec(ctx, logger, stmt, args); err != nil {
			return nativeError(r.db.dialect.Tag(), "collect", err)
		}
	}
	return nil
}

// DB returns the connection the relation executes on.
func (r *Relation) DB() *DB { return r.db }

// Schema returns the static output schema.
func (r *Relation) Schema() dtype.Schema { return r.schema }

// Ordered reports whether the relation has a meaningful row order.
func (r *Relation) Ordered() bool { return r.ordered }

// SQL renders the query that materializes the relation, with bind
// parameters. On SQLite builds without window functions the query may read
// staged temporary tables, which only exist once the relation is collected.
func (r *Relation) SQL() (string, []any, error) {
	cols := make([]any, 0, r.schema.Len())
	for _, name := range r.schema.Names() {
		cols = append(cols, goqu.T("e").Col(name))
	}
	if len(cols) == 0 {
		cols = append(cols, goqu.T("e").Col(rowCol))
	}
	return r.db.builder.From(r.ds.As("e")).
		Select(cols...).
		Order(goqu.T("e").Col(rowCol).Asc()).
		Prepared(true).
		ToSQL()
}

// derive returns a relation on the same connection.
func (r *Relation) derive(ds *goqu.SelectDataset, schema dtype.Schema) *Relation {
	return &Relation{db: r.db, ds: ds, schema: schema, ordered: r.ordered, stages: r.stages}
}

// staged returns a relation reading the stage table in rowid order. The
// stage holds the named columns of alias in fill, ordered by order.
func (r *Relation) staged(table, alias string, fill *goqu.SelectDataset, order []exp.Expression, schema dtype.Schema) *Relation {
	names := schema.Names()
	cols := make([]any, 0, len(names))
	for _, name := range names {
		cols = append(cols, goqu.T(alias).Col(name).As(name))
	}
	if len(cols) == 0 {
		cols = append(cols, goqu.L("NULL").As("__dfb_empty"))
	}
	st := stage{table: table, fill: fill.Select(cols...), order: order}
	read := make([]any, 0, len(names)+1)
	read = append(read, goqu.T(table).Col("rowid").As(rowCol))
	for _, name := range names {
		read = append(read, goqu.T(table).Col(name))
	}
	out := r.derive(r.db.builder.From(goqu.T(table)).Select(read...), schema)
	out.stages = withStages(r.stages, []stage{st})
	return out
}

// from starts a query reading r under alias.
func (r *Relation) from(alias string) *goqu.SelectDataset {
	return r.db.builder.From(r.ds.As(alias))
}

// passthrough selects the row key and the named columns of alias.
func passthrough(alias string, names []string) []any {
	cols := make([]any, 0, len(names)+1)
	cols = append(cols, goqu.T(alias).Col(rowCol))
	for _, name := range names {
		cols = append(cols, goqu.T(alias).Col(name))
	}
	return cols
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func checkNames(names []string) error {
	for _, name := range names {
		if strings.HasPrefix(name, "__dfb_") {
			return dferr.Malformed("column name %q is reserved", name)
		}
	}
	return nil
}

// Table returns a relation reading an existing table or view. Rows are
// ordered by the orderBy columns; without them SQLite tables follow rowid
// and PostgreSQL tables are unordered. The row key strategy for orderBy
// comes from the default compatibility table.
func (d *DB) Table(ctx context.Context, name string, orderBy ...string) (*Relation, error) {
	schema, err := d.tableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := checkNames(schema.Names()); err != nil {
		return nil, err
	}

	cols := make([]any, 0, schema.Len()+1)
	ordered := true
	switch {
	case len(orderBy) > 0:
		order := make([]exp.Expression, len(orderBy))
		for i, c := range orderBy {
			if !schema.Has(c) {
				return nil, dferr.Malformed("order column %q not found in %s", c, name)
			}
			order[i] = goqu.L("? ASC", goqu.T(name).Col(c))
		}
		table, err := compat.Default()
		if err != nil {
			return nil, err
		}
		strategy, err := table.Resolve(d.dialect.Tag(), compat.FeatureRowKey, d.version)
		if err != nil {
			return nil, err
		}
		switch strategy {
		case compat.StrategyTempTableRowid:
			base := &Relation{db: d, schema: schema, ordered: true}
			return base.staged(backend.UUIDNames{}.Next("dfb_stage_"), name, d.builder.From(goqu.T(name)), order, schema), nil
		case compat.StrategyUnsupported:
			return nil, dferr.Unsupported(d.dialect.Tag(), compat.FeatureRowKey, "ordered table reads are not supported by %s %s", d.dialect.Tag(), d.version)
		}
		cols = append(cols, goqu.L("ROW_NUMBER() OVER ?", windowSpec(nil, order, "")).As(rowCol))
	case d.dialect == DialectSQLite:
		cols = append(cols, goqu.I("rowid").As(rowCol))
	default:
		cols = append(cols, goqu.L("ROW_NUMBER() OVER ()").As(rowCol))
		ordered = false
	}
	for _, c := range schema.Names() {
		cols = append(cols, goqu.I(c))
	}
	return &Relation{db: d, ds: d.builder.From(goqu.T(name)).Select(cols...), schema: schema, ordered: ordered}, nil
}

// tableSchema reads the column types of name. The read is not a relation
// query and is not counted.
func (d *DB) tableSchema(ctx context.Context, name string) (dtype.Schema, error) {
	q, _, err := d.builder.From(goqu.T(name)).Limit(1).ToSQL()
	if err != nil {
		return dtype.Schema{}, err
	}
	rows, err := d.db.QueryxContext(ctx, q)
	if err != nil {
		return dtype.Schema{}, dferr.Native(d.dialect.Tag(), "table", err)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return dtype.Schema{}, dferr.Native(d.dialect.Tag(), "table", err)
	}
	fields := make([]dtype.Field, len(types))
	for i, ct := range types {
		fields[i] = dtype.Field{Name: ct.Name(), Dtype: dtypeOfColumn(d.dialect, ct)}
	}
	return dtype.NewSchema(fields...)
}

// importColumns copies cols into a temporary table and returns a relation
// reading it in row order.
func (d *DB) importColumns(ctx context.Context, logger backend.Logger, names backend.NameGenerator, cols []column.Column) (*Relation, error) {
	if err := column.Validate(cols); err != nil {
		return nil, err
	}
	schema, err := column.Schema(cols)
	if err != nil {
		return nil, err
	}
	if err := checkNames(schema.Names()); err != nil {
		return nil, err
	}
	height, err := column.Height(cols)
	if err != nil {
		return nil, err
	}

	rowType := "INTEGER"
	if d.dialect == DialectPostgres {
		rowType = "BIGINT"
	}
	defs := []string{quoteIdent(rowCol) + " " + rowType}
	for _, c := range cols {
		t, err := ddlType(d.dialect, c.Dtype)
		if err != nil {
			return nil, err
		}
		defs = append(defs, strings.TrimSpace(quoteIdent(c.Name)+" "+t))
	}
	table := names.Next("dfb_")
	create := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if err := d.exec(ctx, logger, create, nil); err != nil {
		return nil, dferr.Native(d.dialect.Tag(), "import", err)
	}

	insertCols := make([]any, 0, len(cols)+1)
	insertCols = append(insertCols, rowCol)
	for _, c := range cols {
		insertCols = append(insertCols, c.Name)
	}
	chunk := max(1, insertParams/len(insertCols))
	for start := 0; start < height; start += chunk {
		end := min(height, start+chunk)
		vals := make([][]any, 0, end-start)
		for i := start; i < end; i++ {
			row := make([]any, 0, len(cols)+1)
			row = append(row, int64(i+1))
			for _, c := range cols {
				v, err := toSQL(d.dialect, c.Dtype, c.Values[i])
				if err != nil {
					return nil, err
				}
				row = append(row, v)
			}
			vals = append(vals, row)
		}
		stmt, args, err := d.builder.Insert(goqu.T(table)).Cols(insertCols...).Vals(vals...).Prepared(true).ToSQL()
		if err != nil {
			return nil, err
		}
		if err := d.exec(ctx, logger, stmt, args); err != nil {
			return nil, dferr.Native(d.dialect.Tag(), "import", err)
		}
	}

	ds := d.builder.From(goqu.T(table)).Select(passthrough(table, schema.Names())...)
	return &Relation{db: d, ds: ds, schema: schema, ordered: true}, nil
}

// export runs the relation query and converts the result into columns.
func (r *Relation) export(ctx context.Context, logger backend.Logger) ([]column.Column, error) {
	if err := r.prepare(ctx, logger); err != nil {
		return nil, err
	}
	q, args, err := r.SQL()
	if err != nil {
		return nil, err
	}
	fields := r.schema.Fields()
	cols := make([]column.Column, len(fields))
	for i, f := range fields {
		cols[i] = column.Column{Name: f.Name, Dtype: f.Dtype, Values: []any{}}
	}
	err = r.db.query(ctx, logger, q, args, func(row []any) error {
		for i := range cols {
			v, err := fromSQL(cols[i].Dtype, row[i])
			if err != nil {
				return fmt.Errorf("column %q: %w", cols[i].Name, err)
			}
			cols[i].Values = append(cols[i].Values, v)
		}
		return nil
	})
	if err != nil {
		if dferr.IsCoercion(err) {
			return nil, err
		}
		return nil, nativeError(r.db.dialect.Tag(), "collect", err)
	}
	return cols, nil
}

// explain renders the materializing query for humans.
func (r *Relation) explain() (string, error) {
	q, args, err := r.SQL()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s relation %s\n", r.db.dialect.Tag(), r.schema)
	for _, s := range r.stages {
		stmt, sargs, err := s.statement(r.db.builder)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s;\n", stmt)
		if len(sargs) > 0 {
			fmt.Fprintf(&b, "-- params: %v\n", sargs)
		}
	}
	b.WriteString(q)
	if len(args) > 0 {
		fmt.Fprintf(&b, "\n-- params: %v", args)
	}
	return b.String(), nil
}

// orderExpr is the ORDER BY term for the row key of alias.
func orderExpr(alias string, desc bool) exp.OrderedExpression {
	if desc {
		return goqu.T(alias).Col(rowCol).Desc()
	}
	return goqu.T(alias).Col(rowCol).Asc()
}

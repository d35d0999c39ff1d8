package search

import (
	"fmt"
	"strings"
	"time"
)

// Query is an executable plan: a single SQL statement over the resources and
// index tables, plus its positional arguments.
type Query struct {
	SQL  string
	Args []any
}

// Option configures the compiler.
type Option func(*compiler)

// WithClock injects the current-time provider used for APPROXIMATE date
// tolerance math. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *compiler) { c.now = now }
}

type compiler struct {
	reg   *Registry
	now   func() time.Time
	alias int
	args  []any
}

// Compile translates a spec into a query plan. The generated statement
// selects from the resources table with one EXISTS subquery per predicate,
// so a record matching through multiple index rows appears exactly once.
func Compile(spec *Spec, reg *Registry, opts ...Option) (*Query, error) {
	if spec.Count < 0 || spec.Offset < 0 {
		return nil, fmt.Errorf("%w: negative pagination (count=%d offset=%d)",
			ErrInvalidSpec, spec.Count, spec.Offset)
	}
	if spec.Type == "" {
		return nil, fmt.Errorf("%w: missing resource type", ErrInvalidSpec)
	}

	c := &compiler{reg: reg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	var b strings.Builder
	b.WriteString("SELECT r.resource_type, r.resource_id, r.body, r.version_id, r.last_updated_remote")
	b.WriteString("\nFROM resources r\nWHERE r.resource_type = ?")
	c.args = append(c.args, spec.Type)

	if len(spec.Filters) > 0 {
		joiner := " AND "
		if spec.Operator == OperatorOr {
			joiner = " OR "
		}
		conds := make([]string, 0, len(spec.Filters))
		for _, g := range spec.Filters {
			cond, err := c.groupCond("r", spec.Type, g)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		b.WriteString("\n  AND (")
		b.WriteString(strings.Join(conds, joiner))
		b.WriteString(")")
	}

	for _, h := range spec.Has {
		cond, err := c.hasCond("r", h)
		if err != nil {
			return nil, err
		}
		b.WriteString("\n  AND ")
		b.WriteString(cond)
	}

	b.WriteString("\nORDER BY ")
	for _, key := range spec.Sort {
		expr, err := c.sortExpr("r", spec.Type, key)
		if err != nil {
			return nil, err
		}
		b.WriteString(expr)
		b.WriteString(", ")
	}
	b.WriteString("r.resource_id ASC")

	switch {
	case spec.Count > 0:
		b.WriteString("\nLIMIT ? OFFSET ?")
		c.args = append(c.args, spec.Count, spec.Offset)
	case spec.Offset > 0:
		b.WriteString("\nLIMIT -1 OFFSET ?")
		c.args = append(c.args, spec.Offset)
	}

	return &Query{SQL: b.String(), Args: c.args}, nil
}

// groupCond compiles one filter group: same-field predicates OR'd together.
func (c *compiler) groupCond(base, resourceType string, g FilterGroup) (string, error) {
	def, ok := c.reg.Lookup(resourceType, g.Param)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnsupportedParameter, resourceType, g.Param)
	}
	if len(g.Predicates) == 0 {
		return "", fmt.Errorf("%w: empty filter group for %s.%s", ErrInvalidSpec, resourceType, g.Param)
	}

	conds := make([]string, 0, len(g.Predicates))
	for _, p := range g.Predicates {
		if p.paramType() != def.Type {
			return "", fmt.Errorf("%w: %s.%s is %s, got %s predicate",
				ErrUnsupportedParameter, resourceType, g.Param, def.Type, p.paramType())
		}
		cond, err := c.predCond(base, g.Param, p)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return "(" + strings.Join(conds, " OR ") + ")", nil
}

// predCond compiles a single predicate into an EXISTS condition against its
// index table.
func (c *compiler) predCond(base, param string, p Predicate) (string, error) {
	switch pred := p.(type) {
	case StringPredicate:
		return c.stringCond(base, param, pred)
	case NumberPredicate:
		return c.numberCond(base, param, pred)
	case DatePredicate:
		return c.dateCond(base, param, pred)
	case QuantityPredicate:
		return c.quantityCond(base, param, pred)
	case TokenPredicate:
		return c.tokenCond(base, param, pred)
	default:
		return "", fmt.Errorf("%w: predicate %T", ErrUnsupportedParameter, p)
	}
}

// exists wraps a value condition into the standard correlated subquery shape.
// Arguments: param name first, then whatever cond appended.
func (c *compiler) exists(base, table, param, cond string) string {
	a := c.nextAlias()
	sql := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM %s %s WHERE %s.resource_type = %s.resource_type AND %s.resource_id = %s.resource_id AND %s.param = ? AND %s)",
		table, a, a, base, a, base, a, strings.ReplaceAll(cond, "$", a))
	c.args = append(c.args, param)
	return sql
}

// notExists is the negated variant, used by NOT_EQUAL so that it is the
// exact complement of EQUAL over resources carrying the parameter.
func (c *compiler) notExists(base, table, param, cond string) string {
	a := c.nextAlias()
	sql := fmt.Sprintf(
		"NOT EXISTS (SELECT 1 FROM %s %s WHERE %s.resource_type = %s.resource_type AND %s.resource_id = %s.resource_id AND %s.param = ? AND %s)",
		table, a, a, base, a, base, a, strings.ReplaceAll(cond, "$", a))
	c.args = append(c.args, param)
	return sql
}

func (c *compiler) stringCond(base, param string, p StringPredicate) (string, error) {
	switch p.Modifier {
	case StringDefault, "":
		norm := escapeLike(Normalize(p.Value))
		cond := `($.value_norm LIKE ? ESCAPE '\' OR $.value_norm LIKE ? ESCAPE '\')`
		sql := c.exists(base, "idx_string", param, cond)
		c.args = append(c.args, norm+"%", "% "+norm+"%")
		return sql, nil
	case StringMatchesExactly:
		sql := c.exists(base, "idx_string", param, "$.value = ?")
		c.args = append(c.args, p.Value)
		return sql, nil
	case StringContains:
		sql := c.exists(base, "idx_string", param, `$.value_norm LIKE ? ESCAPE '\'`)
		c.args = append(c.args, "%"+escapeLike(Normalize(p.Value))+"%")
		return sql, nil
	default:
		return "", fmt.Errorf("%w: string modifier %q", ErrUnsupportedParameter, p.Modifier)
	}
}

func (c *compiler) numberCond(base, param string, p NumberPredicate) (string, error) {
	w, err := parseDecimal(p.Value)
	if err != nil {
		return "", err
	}
	switch p.Prefix {
	case PrefixEqual, "":
		sql := c.exists(base, "idx_number", param, "$.value >= ? AND $.value < ?")
		c.args = append(c.args, w.Low, w.High)
		return sql, nil
	case PrefixNotEqual:
		has := c.exists(base, "idx_number", param, "1=1")
		not := c.notExists(base, "idx_number", param, "$.value >= ? AND $.value < ?")
		c.args = append(c.args, w.Low, w.High)
		return "(" + has + " AND " + not + ")", nil
	case PrefixGreaterThan, PrefixStartsAfter:
		sql := c.exists(base, "idx_number", param, "$.value > ?")
		c.args = append(c.args, w.Value)
		return sql, nil
	case PrefixGreaterThanOrEqual:
		sql := c.exists(base, "idx_number", param, "$.value >= ?")
		c.args = append(c.args, w.Value)
		return sql, nil
	case PrefixLessThan, PrefixEndsBefore:
		sql := c.exists(base, "idx_number", param, "$.value < ?")
		c.args = append(c.args, w.Value)
		return sql, nil
	case PrefixLessThanOrEqual:
		sql := c.exists(base, "idx_number", param, "$.value <= ?")
		c.args = append(c.args, w.Value)
		return sql, nil
	case PrefixApproximate:
		lo, hi := approximateWindow(w.Value)
		sql := c.exists(base, "idx_number", param, "$.value >= ? AND $.value <= ?")
		c.args = append(c.args, lo, hi)
		return sql, nil
	default:
		return "", fmt.Errorf("%w: number prefix %q", ErrUnsupportedParameter, p.Prefix)
	}
}

func (c *compiler) dateCond(base, param string, p DatePredicate) (string, error) {
	iv, err := ParseDateInterval(p.Value)
	if err != nil {
		return "", err
	}
	switch p.Prefix {
	case PrefixEqual, "":
		sql := c.exists(base, "idx_date", param, "$.start_ms < ? AND $.end_ms > ?")
		c.args = append(c.args, iv.EndMS, iv.StartMS)
		return sql, nil
	case PrefixNotEqual:
		has := c.exists(base, "idx_date", param, "1=1")
		not := c.notExists(base, "idx_date", param, "$.start_ms < ? AND $.end_ms > ?")
		c.args = append(c.args, iv.EndMS, iv.StartMS)
		return "(" + has + " AND " + not + ")", nil
	case PrefixGreaterThan:
		sql := c.exists(base, "idx_date", param, "$.end_ms > ?")
		c.args = append(c.args, iv.EndMS)
		return sql, nil
	case PrefixGreaterThanOrEqual:
		sql := c.exists(base, "idx_date", param, "$.end_ms > ?")
		c.args = append(c.args, iv.StartMS)
		return sql, nil
	case PrefixLessThan:
		sql := c.exists(base, "idx_date", param, "$.start_ms < ?")
		c.args = append(c.args, iv.StartMS)
		return sql, nil
	case PrefixLessThanOrEqual:
		sql := c.exists(base, "idx_date", param, "$.start_ms < ?")
		c.args = append(c.args, iv.EndMS)
		return sql, nil
	case PrefixStartsAfter:
		sql := c.exists(base, "idx_date", param, "$.start_ms >= ?")
		c.args = append(c.args, iv.EndMS)
		return sql, nil
	case PrefixEndsBefore:
		sql := c.exists(base, "idx_date", param, "$.end_ms <= ?")
		c.args = append(c.args, iv.StartMS)
		return sql, nil
	case PrefixApproximate:
		wide := iv.widen(iv.approximateTolerance(c.now()))
		sql := c.exists(base, "idx_date", param, "$.start_ms < ? AND $.end_ms > ?")
		c.args = append(c.args, wide.EndMS, wide.StartMS)
		return sql, nil
	default:
		return "", fmt.Errorf("%w: date prefix %q", ErrUnsupportedParameter, p.Prefix)
	}
}

func (c *compiler) quantityCond(base, param string, p QuantityPredicate) (string, error) {
	w, err := parseDecimal(p.Value)
	if err != nil {
		return "", err
	}
	factor := canonicalFactor(p.Unit)
	cval, cunit := CanonicalizeQuantity(w.Value, p.Unit)

	switch p.Prefix {
	case PrefixEqual, "":
		sql := c.exists(base, "idx_quantity", param, "$.canon_unit = ? AND $.canon_value >= ? AND $.canon_value < ?")
		c.args = append(c.args, cunit, w.Low*factor, w.High*factor)
		return sql, nil
	case PrefixNotEqual:
		has := c.exists(base, "idx_quantity", param, "$.canon_unit = ?")
		c.args = append(c.args, cunit)
		not := c.notExists(base, "idx_quantity", param, "$.canon_unit = ? AND $.canon_value >= ? AND $.canon_value < ?")
		c.args = append(c.args, cunit, w.Low*factor, w.High*factor)
		return "(" + has + " AND " + not + ")", nil
	case PrefixGreaterThan, PrefixStartsAfter:
		sql := c.exists(base, "idx_quantity", param, "$.canon_unit = ? AND $.canon_value > ?")
		c.args = append(c.args, cunit, cval)
		return sql, nil
	case PrefixGreaterThanOrEqual:
		sql := c.exists(base, "idx_quantity", param, "$.canon_unit = ? AND $.canon_value >= ?")
		c.args = append(c.args, cunit, cval)
		return sql, nil
	case PrefixLessThan, PrefixEndsBefore:
		sql := c.exists(base, "idx_quantity", param, "$.canon_unit = ? AND $.canon_value < ?")
		c.args = append(c.args, cunit, cval)
		return sql, nil
	case PrefixLessThanOrEqual:
		sql := c.exists(base, "idx_quantity", param, "$.canon_unit = ? AND $.canon_value <= ?")
		c.args = append(c.args, cunit, cval)
		return sql, nil
	case PrefixApproximate:
		lo, hi := approximateWindow(cval)
		sql := c.exists(base, "idx_quantity", param, "$.canon_unit = ? AND $.canon_value >= ? AND $.canon_value <= ?")
		c.args = append(c.args, cunit, lo, hi)
		return sql, nil
	default:
		return "", fmt.Errorf("%w: quantity prefix %q", ErrUnsupportedParameter, p.Prefix)
	}
}

func (c *compiler) tokenCond(base, param string, p TokenPredicate) (string, error) {
	if p.System == "" {
		sql := c.exists(base, "idx_token", param, "$.code = ?")
		c.args = append(c.args, p.Code)
		return sql, nil
	}
	sql := c.exists(base, "idx_token", param, "$.system = ? AND $.code = ?")
	c.args = append(c.args, p.System, p.Code)
	return sql, nil
}

// hasCond compiles a chained reference sub-spec: the outer resource matches
// iff at least one related resource of h.Type points at it through the named
// reference field and satisfies the nested conjunction. Nested HasSpecs
// recurse with the related resource as the new base.
func (c *compiler) hasCond(base string, h HasSpec) (string, error) {
	def, ok := c.reg.Lookup(h.Type, h.Reference)
	if !ok || def.Type != ParamReference {
		return "", fmt.Errorf("%w: %s.%s is not a reference", ErrUnsupportedParameter, h.Type, h.Reference)
	}

	ref := c.nextAlias()
	rr := c.nextAlias()

	var b strings.Builder
	fmt.Fprintf(&b,
		"EXISTS (SELECT 1 FROM idx_reference %s JOIN resources %s ON %s.resource_type = %s.resource_type AND %s.resource_id = %s.resource_id",
		ref, rr, rr, ref, rr, ref)
	fmt.Fprintf(&b,
		" WHERE %s.param = ? AND %s.resource_type = ? AND %s.target_type = %s.resource_type AND %s.target_id = %s.resource_id",
		ref, ref, ref, base, ref, base)
	c.args = append(c.args, h.Reference, h.Type)

	for _, g := range h.Filters {
		cond, err := c.groupCond(rr, h.Type, g)
		if err != nil {
			return "", err
		}
		b.WriteString(" AND ")
		b.WriteString(cond)
	}
	for _, nested := range h.Has {
		cond, err := c.hasCond(rr, nested)
		if err != nil {
			return "", err
		}
		b.WriteString(" AND ")
		b.WriteString(cond)
	}
	b.WriteString(")")
	return b.String(), nil
}

// sortExpr builds a scalar subquery picking the sort value for a resource.
// MIN for ascending, MAX for descending, so multi-valued fields sort by their
// best-ranked value.
func (c *compiler) sortExpr(base, resourceType string, key SortKey) (string, error) {
	def, ok := c.reg.Lookup(resourceType, key.Param)
	if !ok {
		return "", fmt.Errorf("%w: sort on %s.%s", ErrUnsupportedParameter, resourceType, key.Param)
	}

	var table, col string
	switch def.Type {
	case ParamString:
		table, col = "idx_string", "value_norm"
	case ParamNumber:
		table, col = "idx_number", "value"
	case ParamDate:
		table, col = "idx_date", "start_ms"
	case ParamQuantity:
		table, col = "idx_quantity", "canon_value"
	default:
		return "", fmt.Errorf("%w: cannot sort by %s parameter %s.%s",
			ErrUnsupportedParameter, def.Type, resourceType, key.Param)
	}

	agg, dir := "MIN", "ASC"
	if key.Order == Descending {
		agg, dir = "MAX", "DESC"
	}
	a := c.nextAlias()
	expr := fmt.Sprintf(
		"(SELECT %s(%s.%s) FROM %s %s WHERE %s.resource_type = %s.resource_type AND %s.resource_id = %s.resource_id AND %s.param = ?) %s",
		agg, a, col, table, a, a, base, a, base, a, dir)
	c.args = append(c.args, key.Param)
	return expr, nil
}

func (c *compiler) nextAlias() string {
	c.alias++
	return fmt.Sprintf("x%d", c.alias)
}

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

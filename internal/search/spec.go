// Package search defines the declarative search specification and compiles
// it into an executable SQL query plan over the record store's index tables.
package search

import "errors"

var (
	// ErrUnsupportedParameter is returned when a filter or sort names a
	// field/type combination with no registered matcher.
	ErrUnsupportedParameter = errors.New("unsupported search parameter")

	// ErrInvalidSpec is returned for malformed specs, such as negative
	// pagination values.
	ErrInvalidSpec = errors.New("invalid search spec")
)

// LogicOperator joins filter groups at the top level of a spec.
type LogicOperator string

const (
	OperatorAnd LogicOperator = "AND"
	OperatorOr  LogicOperator = "OR"
)

// StringModifier selects the string matching semantics.
type StringModifier string

const (
	// StringDefault matches case/accent-insensitively on a prefix of any
	// token of the indexed value.
	StringDefault StringModifier = "DEFAULT"
	// StringMatchesExactly is an exact case-sensitive full-string match.
	StringMatchesExactly StringModifier = "MATCHES_EXACTLY"
	// StringContains is a case-insensitive substring match.
	StringContains StringModifier = "CONTAINS"
)

// Prefix is the comparison operator for number, date, and quantity filters.
type Prefix string

const (
	PrefixEqual              Prefix = "EQUAL"
	PrefixNotEqual           Prefix = "NOT_EQUAL"
	PrefixGreaterThan        Prefix = "GREATERTHAN"
	PrefixGreaterThanOrEqual Prefix = "GREATERTHAN_OR_EQUALS"
	PrefixLessThan           Prefix = "LESSTHAN"
	PrefixLessThanOrEqual    Prefix = "LESSTHAN_OR_EQUALS"
	PrefixStartsAfter        Prefix = "STARTS_AFTER"
	PrefixEndsBefore         Prefix = "ENDS_BEFORE"
	PrefixApproximate        Prefix = "APPROXIMATE"
)

// SortOrder is the direction of a sort key.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// Predicate is one typed matching condition within a filter group.
type Predicate interface {
	paramType() ParamType
}

// StringPredicate matches string-indexed values.
type StringPredicate struct {
	Modifier StringModifier
	Value    string
}

func (StringPredicate) paramType() ParamType { return ParamString }

// NumberPredicate matches number-indexed values. Value keeps the caller's
// decimal representation so the implied precision window can be derived from
// its significant digits.
type NumberPredicate struct {
	Prefix Prefix
	Value  string
}

func (NumberPredicate) paramType() ParamType { return ParamNumber }

// DatePredicate matches date-indexed intervals. Value accepts year, month,
// day, or full date-time precision.
type DatePredicate struct {
	Prefix Prefix
	Value  string
}

func (DatePredicate) paramType() ParamType { return ParamDate }

// QuantityPredicate matches quantity-indexed values after canonical unit
// normalization.
type QuantityPredicate struct {
	Prefix Prefix
	Value  string
	System string
	Unit   string
}

func (QuantityPredicate) paramType() ParamType { return ParamQuantity }

// TokenPredicate matches exactly on a (system, code) pair; display text is
// ignored. An empty System matches on code alone.
type TokenPredicate struct {
	System string
	Code   string
}

func (TokenPredicate) paramType() ParamType { return ParamToken }

// FilterGroup is a disjunction of same-field predicates. Groups combine by
// AND across a spec unless the spec's Operator overrides it.
type FilterGroup struct {
	Param      string
	Predicates []Predicate
}

// HasSpec scopes a nested filter conjunction to a related resource type,
// joined through the named reference field pointing at the outer resource.
// Nested HasSpecs chain to arbitrary depth.
type HasSpec struct {
	Type      string // related resource type the sub-spec runs against
	Reference string // reference field on the related type
	Filters   []FilterGroup
	Has       []HasSpec
}

// SortKey is one sort directive; ties are always broken by resource id
// ascending for a deterministic total order.
type SortKey struct {
	Param string
	Order SortOrder
}

// Spec is a declarative query: immutable once built, consumed once by the
// compiler.
type Spec struct {
	Type     string
	Operator LogicOperator // zero value means AND
	Filters  []FilterGroup
	Has      []HasSpec
	Sort     []SortKey
	Count    int
	Offset   int
}

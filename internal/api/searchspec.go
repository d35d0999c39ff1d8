package api

import (
	"encoding/json"
	"fmt"

	"github.com/clinisync/clinisync/internal/search"
)

// wire representation of a search spec as accepted by POST /api/v1/search.

type wireSpec struct {
	Type     string       `json:"type"`
	Operator string       `json:"operator,omitempty"`
	Filters  []wireFilter `json:"filters,omitempty"`
	Has      []wireHas    `json:"has,omitempty"`
	Sort     []wireSort   `json:"sort,omitempty"`
	Count    int          `json:"count,omitempty"`
	Offset   int          `json:"offset,omitempty"`
}

type wireFilter struct {
	Param      string          `json:"param"`
	Predicates []wirePredicate `json:"predicates"`
}

type wirePredicate struct {
	Kind     string `json:"kind"`
	Modifier string `json:"modifier,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Value    string `json:"value,omitempty"`
	System   string `json:"system,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Code     string `json:"code,omitempty"`
}

type wireHas struct {
	Type      string       `json:"type"`
	Reference string       `json:"reference"`
	Filters   []wireFilter `json:"filters,omitempty"`
	Has       []wireHas    `json:"has,omitempty"`
}

type wireSort struct {
	Param string `json:"param"`
	Order string `json:"order,omitempty"`
}

func decodeSearchSpec(raw json.RawMessage) (search.Spec, error) {
	var ws wireSpec
	if err := json.Unmarshal(raw, &ws); err != nil {
		return search.Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if ws.Type == "" {
		return search.Spec{}, fmt.Errorf("type is required")
	}

	spec := search.Spec{
		Type:   ws.Type,
		Count:  ws.Count,
		Offset: ws.Offset,
	}
	switch ws.Operator {
	case "", string(search.OperatorAnd):
		spec.Operator = search.OperatorAnd
	case string(search.OperatorOr):
		spec.Operator = search.OperatorOr
	default:
		return search.Spec{}, fmt.Errorf("unknown operator %q", ws.Operator)
	}

	var err error
	if spec.Filters, err = decodeFilters(ws.Filters); err != nil {
		return search.Spec{}, err
	}
	if spec.Has, err = decodeHas(ws.Has); err != nil {
		return search.Spec{}, err
	}
	for _, s := range ws.Sort {
		order := search.Ascending
		switch s.Order {
		case "", string(search.Ascending):
		case string(search.Descending):
			order = search.Descending
		default:
			return search.Spec{}, fmt.Errorf("unknown sort order %q", s.Order)
		}
		spec.Sort = append(spec.Sort, search.SortKey{Param: s.Param, Order: order})
	}
	return spec, nil
}

func decodeFilters(in []wireFilter) ([]search.FilterGroup, error) {
	var out []search.FilterGroup
	for _, f := range in {
		group := search.FilterGroup{Param: f.Param}
		for _, p := range f.Predicates {
			pred, err := decodePredicate(p)
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", f.Param, err)
			}
			group.Predicates = append(group.Predicates, pred)
		}
		out = append(out, group)
	}
	return out, nil
}

func decodePredicate(p wirePredicate) (search.Predicate, error) {
	switch p.Kind {
	case "string":
		mod := search.StringDefault
		switch p.Modifier {
		case "", string(search.StringDefault):
		case string(search.StringMatchesExactly):
			mod = search.StringMatchesExactly
		case string(search.StringContains):
			mod = search.StringContains
		default:
			return nil, fmt.Errorf("unknown string modifier %q", p.Modifier)
		}
		return search.StringPredicate{Modifier: mod, Value: p.Value}, nil
	case "number":
		return search.NumberPredicate{Prefix: search.Prefix(p.Prefix), Value: p.Value}, nil
	case "date":
		return search.DatePredicate{Prefix: search.Prefix(p.Prefix), Value: p.Value}, nil
	case "quantity":
		return search.QuantityPredicate{
			Prefix: search.Prefix(p.Prefix),
			Value:  p.Value,
			System: p.System,
			Unit:   p.Unit,
		}, nil
	case "token":
		return search.TokenPredicate{System: p.System, Code: p.Code}, nil
	default:
		return nil, fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
}

func decodeHas(in []wireHas) ([]search.HasSpec, error) {
	var out []search.HasSpec
	for _, h := range in {
		if h.Type == "" || h.Reference == "" {
			return nil, fmt.Errorf("has clause requires type and reference")
		}
		filters, err := decodeFilters(h.Filters)
		if err != nil {
			return nil, err
		}
		nested, err := decodeHas(h.Has)
		if err != nil {
			return nil, err
		}
		out = append(out, search.HasSpec{
			Type:      h.Type,
			Reference: h.Reference,
			Filters:   filters,
			Has:       nested,
		})
	}
	return out, nil
}

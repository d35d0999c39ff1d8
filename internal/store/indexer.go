package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinisync/clinisync/internal/search"
	"github.com/tidwall/gjson"
)

// execContext is satisfied by both *sql.DB and *sql.Tx.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var indexTables = []string{
	"idx_string", "idx_number", "idx_date", "idx_quantity", "idx_token", "idx_reference",
}

// deleteIndex removes all index rows for a resource.
func deleteIndex(ctx context.Context, execer execContext, resourceType, resourceID string) error {
	for _, table := range indexTables {
		_, err := execer.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE resource_type = ? AND resource_id = ?", table),
			resourceType, resourceID)
		if err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// writeIndex re-extracts and rewrites all index rows for a resource body
// using the registered parameter definitions. Values the extractor cannot
// interpret are skipped rather than failing the surrounding mutation.
func (s *SQLiteStore) writeIndex(ctx context.Context, execer execContext, resourceType, resourceID string, body json.RawMessage) error {
	if err := deleteIndex(ctx, execer, resourceType, resourceID); err != nil {
		return err
	}

	for _, def := range s.registry.Defs(resourceType) {
		result := gjson.GetBytes(body, def.Path)
		if !result.Exists() {
			continue
		}
		for _, v := range flatten(result) {
			if err := indexValue(ctx, execer, def, resourceType, resourceID, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// flatten expands nested array results into their leaf elements.
func flatten(r gjson.Result) []gjson.Result {
	if !r.IsArray() {
		return []gjson.Result{r}
	}
	var out []gjson.Result
	r.ForEach(func(_, v gjson.Result) bool {
		out = append(out, flatten(v)...)
		return true
	})
	return out
}

func indexValue(ctx context.Context, execer execContext, def search.ParamDef, resourceType, resourceID string, v gjson.Result) error {
	switch def.Type {
	case search.ParamString:
		if v.Type != gjson.String {
			return nil
		}
		_, err := execer.ExecContext(ctx, `
			INSERT INTO idx_string (resource_type, resource_id, param, value, value_norm)
			VALUES (?, ?, ?, ?, ?)
		`, resourceType, resourceID, def.Name, v.String(), search.Normalize(v.String()))
		if err != nil {
			return fmt.Errorf("index string %s: %w", def.Name, err)
		}

	case search.ParamNumber:
		if v.Type != gjson.Number {
			return nil
		}
		_, err := execer.ExecContext(ctx, `
			INSERT INTO idx_number (resource_type, resource_id, param, value)
			VALUES (?, ?, ?, ?)
		`, resourceType, resourceID, def.Name, v.Float())
		if err != nil {
			return fmt.Errorf("index number %s: %w", def.Name, err)
		}

	case search.ParamDate:
		if v.Type != gjson.String {
			return nil
		}
		iv, err := search.ParseDateInterval(v.String())
		if err != nil {
			return nil
		}
		_, err = execer.ExecContext(ctx, `
			INSERT INTO idx_date (resource_type, resource_id, param, start_ms, end_ms)
			VALUES (?, ?, ?, ?, ?)
		`, resourceType, resourceID, def.Name, iv.StartMS, iv.EndMS)
		if err != nil {
			return fmt.Errorf("index date %s: %w", def.Name, err)
		}

	case search.ParamQuantity:
		if !v.IsObject() {
			return nil
		}
		value := v.Get("value")
		if value.Type != gjson.Number {
			return nil
		}
		unit := v.Get("code").String()
		if unit == "" {
			unit = v.Get("unit").String()
		}
		canonValue, canonUnit := search.CanonicalizeQuantity(value.Float(), unit)
		_, err := execer.ExecContext(ctx, `
			INSERT INTO idx_quantity (resource_type, resource_id, param, value, unit, system, canon_value, canon_unit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, resourceType, resourceID, def.Name, value.Float(), unit, v.Get("system").String(), canonValue, canonUnit)
		if err != nil {
			return fmt.Errorf("index quantity %s: %w", def.Name, err)
		}

	case search.ParamToken:
		return indexToken(ctx, execer, def, resourceType, resourceID, v)

	case search.ParamReference:
		var target string
		switch {
		case v.Type == gjson.String:
			target = v.String()
		case v.IsObject():
			target = v.Get("reference").String()
		}
		targetType, targetID, ok := splitReference(target)
		if !ok {
			return nil
		}
		_, err := execer.ExecContext(ctx, `
			INSERT INTO idx_reference (resource_type, resource_id, param, target_type, target_id)
			VALUES (?, ?, ?, ?, ?)
		`, resourceType, resourceID, def.Name, targetType, targetID)
		if err != nil {
			return fmt.Errorf("index reference %s: %w", def.Name, err)
		}
	}
	return nil
}

// indexToken handles the shapes token values take in canonical bodies: a
// bare code string, a single coding, or a codeable concept wrapping a coding
// list. Display text is never indexed.
func indexToken(ctx context.Context, execer execContext, def search.ParamDef, resourceType, resourceID string, v gjson.Result) error {
	insert := func(system, code string) error {
		if code == "" {
			return nil
		}
		_, err := execer.ExecContext(ctx, `
			INSERT INTO idx_token (resource_type, resource_id, param, system, code)
			VALUES (?, ?, ?, ?, ?)
		`, resourceType, resourceID, def.Name, system, code)
		if err != nil {
			return fmt.Errorf("index token %s: %w", def.Name, err)
		}
		return nil
	}

	switch {
	case v.Type == gjson.String:
		return insert("", v.String())
	case v.Type == gjson.True || v.Type == gjson.False:
		return insert("", v.Raw)
	case v.IsObject():
		if codings := v.Get("coding"); codings.Exists() {
			var err error
			codings.ForEach(func(_, coding gjson.Result) bool {
				err = insert(coding.Get("system").String(), coding.Get("code").String())
				return err == nil
			})
			return err
		}
		return insert(v.Get("system").String(), v.Get("code").String())
	}
	return nil
}

// splitReference parses a relative "Type/id" reference.
func splitReference(ref string) (resourceType, resourceID string, ok bool) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

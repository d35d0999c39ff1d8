// Package patch computes and applies structured field-level patches between
// two versions of a canonical JSON record body. A patch is an ordered list of
// add/remove/replace operations at slash-separated field paths, deterministic
// for a given pair of inputs.
package patch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"
)

// ErrIncompatibleVersion is returned by Diff when the two bodies do not
// describe the same resource.
var ErrIncompatibleVersion = errors.New("old and new bodies describe different resources")

// OpKind is the kind of a patch operation.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
	OpReplace OpKind = "replace"
)

// Op is a single field-level operation at a path like "/name/0/given".
type Op struct {
	Kind  OpKind          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Diff produces the ordered operation list transforming oldBody into newBody.
// Field ordering is stable: object keys are visited in sorted order, array
// removals are emitted highest index first so the list applies cleanly.
func Diff(oldBody, newBody []byte) ([]Op, error) {
	if !sameResource(oldBody, newBody) {
		return nil, ErrIncompatibleVersion
	}

	var oldVal, newVal any
	if err := json.Unmarshal(oldBody, &oldVal); err != nil {
		return nil, fmt.Errorf("parse old body: %w", err)
	}
	if err := json.Unmarshal(newBody, &newVal); err != nil {
		return nil, fmt.Errorf("parse new body: %w", err)
	}

	ops := make([]Op, 0)
	if err := diffValue("", oldVal, newVal, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// sameResource checks the declared identifier and type tag of both bodies.
func sameResource(oldBody, newBody []byte) bool {
	type header struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	var oh, nh header
	if err := json.Unmarshal(oldBody, &oh); err != nil {
		return false
	}
	if err := json.Unmarshal(newBody, &nh); err != nil {
		return false
	}
	return oh.ResourceType == nh.ResourceType && oh.ID == nh.ID
}

func diffValue(path string, oldVal, newVal any, ops *[]Op) error {
	switch ov := oldVal.(type) {
	case map[string]any:
		nv, ok := newVal.(map[string]any)
		if !ok {
			return appendOp(ops, OpReplace, path, newVal)
		}
		return diffObject(path, ov, nv, ops)
	case []any:
		nv, ok := newVal.([]any)
		if !ok {
			return appendOp(ops, OpReplace, path, newVal)
		}
		return diffArray(path, ov, nv, ops)
	default:
		if !equalValue(oldVal, newVal) {
			return appendOp(ops, OpReplace, path, newVal)
		}
		return nil
	}
}

func diffObject(path string, oldObj, newObj map[string]any, ops *[]Op) error {
	keys := make([]string, 0, len(oldObj)+len(newObj))
	seen := make(map[string]bool, len(oldObj)+len(newObj))
	for k := range oldObj {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range newObj {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		child := path + "/" + escapeSegment(k)
		oldChild, inOld := oldObj[k]
		newChild, inNew := newObj[k]
		switch {
		case inOld && !inNew:
			*ops = append(*ops, Op{Kind: OpRemove, Path: child})
		case !inOld && inNew:
			if err := appendOp(ops, OpAdd, child, newChild); err != nil {
				return err
			}
		default:
			if err := diffValue(child, oldChild, newChild, ops); err != nil {
				return err
			}
		}
	}
	return nil
}

func diffArray(path string, oldArr, newArr []any, ops *[]Op) error {
	common := len(oldArr)
	if len(newArr) < common {
		common = len(newArr)
	}
	for i := 0; i < common; i++ {
		child := path + "/" + strconv.Itoa(i)
		if err := diffValue(child, oldArr[i], newArr[i], ops); err != nil {
			return err
		}
	}
	// Additions append in order; removals run tail-first so earlier removals
	// do not shift the indexes of later ones.
	for i := common; i < len(newArr); i++ {
		child := path + "/" + strconv.Itoa(i)
		if err := appendOp(ops, OpAdd, child, newArr[i]); err != nil {
			return err
		}
	}
	for i := len(oldArr) - 1; i >= common; i-- {
		child := path + "/" + strconv.Itoa(i)
		*ops = append(*ops, Op{Kind: OpRemove, Path: child})
	}
	return nil
}

func appendOp(ops *[]Op, kind OpKind, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode patch value at %s: %w", path, err)
	}
	*ops = append(*ops, Op{Kind: kind, Path: path, Value: raw})
	return nil
}

func equalValue(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Merge concatenates two patches and collapses redundant operations on
// identical paths, keeping the later operation. Operations on distinct paths
// are never reordered.
func Merge(a, b []Op) []Op {
	combined := make([]Op, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)

	last := make(map[string]int, len(combined))
	for i, op := range combined {
		last[op.Path] = i
	}

	out := make([]Op, 0, len(combined))
	for i, op := range combined {
		if last[op.Path] == i {
			out = append(out, op)
		}
	}
	return out
}

// Apply applies ops to body in order and returns the patched document.
func Apply(body []byte, ops []Op) ([]byte, error) {
	out := body
	var err error
	for _, op := range ops {
		sp := sjsonPath(op.Path)
		switch op.Kind {
		case OpAdd, OpReplace:
			out, err = sjson.SetRawBytes(out, sp, op.Value)
		case OpRemove:
			out, err = sjson.DeleteBytes(out, sp)
		default:
			return nil, fmt.Errorf("unknown patch op %q at %s", op.Kind, op.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("apply %s at %s: %w", op.Kind, op.Path, err)
		}
	}
	return out, nil
}

// sjsonPath converts a slash path ("/name/0/given") to sjson dot syntax.
func sjsonPath(path string) string {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segs {
		segs[i] = strings.ReplaceAll(unescapeSegment(s), ".", `\.`)
	}
	return strings.Join(segs, ".")
}

// escapeSegment protects the path separator inside field names.
func escapeSegment(s string) string {
	if !strings.Contains(s, "~") && !strings.Contains(s, "/") {
		return s
	}
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func unescapeSegment(s string) string {
	if !strings.Contains(s, "~") {
		return s
	}
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

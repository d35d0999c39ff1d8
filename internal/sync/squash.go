package sync

import (
	"encoding/json"
	"fmt"

	"github.com/clinisync/clinisync/internal/model"
	"github.com/clinisync/clinisync/internal/patch"
)

// SquashAll folds the pending change history into one net change per
// resource. Grouping preserves first-seen resource order and per-resource id
// order. Resources whose history cancels out (created and deleted locally
// without ever reaching the server) emit no change; their tokens are
// returned separately so the caller can discard the ledger entries without
// an upload.
func SquashAll(changes []model.LocalChange) ([]model.SquashedChange, []model.ChangeToken, error) {
	type group struct {
		key     string
		changes []model.LocalChange
	}

	order := make([]string, 0)
	groups := make(map[string]*group)
	for _, c := range changes {
		key := c.ResourceType + "/" + c.ResourceID
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.changes = append(g.changes, c)
	}

	out := make([]model.SquashedChange, 0, len(order))
	cancelled := make([]model.ChangeToken, 0)
	for _, key := range order {
		squashed, emit, err := squashGroup(groups[key].changes)
		if err != nil {
			return nil, nil, fmt.Errorf("squash %s: %w", key, err)
		}
		if emit {
			out = append(out, squashed)
		} else {
			cancelled = append(cancelled, squashed.Token)
		}
	}
	return out, cancelled, nil
}

// squashGroup folds one resource's ordered changes. The boolean result is
// false when the history cancels out entirely; the token still covers every
// folded id.
func squashGroup(changes []model.LocalChange) (model.SquashedChange, bool, error) {
	ids := make([]int64, 0, len(changes))
	acc := changes[0]
	ids = append(ids, acc.ID)
	cancelled := false

	for _, next := range changes[1:] {
		ids = append(ids, next.ID)

		if cancelled {
			// A fresh INSERT after a locally-cancelled create/delete
			// pair restarts accumulation under the same token.
			if next.Type == model.ChangeTypeInsert {
				acc = next
				acc.ID = changes[0].ID
				cancelled = false
			}
			continue
		}

		switch {
		case acc.Type == model.ChangeTypeInsert && next.Type == model.ChangeTypeUpdate:
			body, err := applyPatchPayload(acc.Payload, next.Payload)
			if err != nil {
				return model.SquashedChange{}, false, err
			}
			acc.Payload = body

		case acc.Type == model.ChangeTypeInsert && next.Type == model.ChangeTypeDelete:
			// Created and deleted locally; the server never saw it.
			cancelled = true

		case acc.Type == model.ChangeTypeUpdate && next.Type == model.ChangeTypeUpdate:
			merged, err := mergePatchPayloads(acc.Payload, next.Payload)
			if err != nil {
				return model.SquashedChange{}, false, err
			}
			// VersionID stays at the earliest pre-edit state.
			acc.Payload = merged

		case next.Type == model.ChangeTypeDelete:
			acc.Type = model.ChangeTypeDelete
			acc.Payload = nil

		case acc.Type == model.ChangeTypeDelete && next.Type == model.ChangeTypeInsert:
			// Delete then re-create collapses to a single put-by-id.
			acc.Type = model.ChangeTypeInsert
			acc.Payload = next.Payload

		default:
			return model.SquashedChange{}, false,
				fmt.Errorf("invalid change sequence: %s then %s", acc.Type, next.Type)
		}
	}

	squashed := model.SquashedChange{
		Token:  model.NewChangeToken(ids),
		Change: acc,
	}
	return squashed, !cancelled, nil
}

// applyPatchPayload applies an UPDATE's patch ops to an INSERT body,
// re-deriving the net INSERT payload.
func applyPatchPayload(body, patchPayload []byte) (json.RawMessage, error) {
	var ops []patch.Op
	if err := json.Unmarshal(patchPayload, &ops); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	out, err := patch.Apply(body, ops)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	return out, nil
}

// mergePatchPayloads merges two UPDATE patches; later operations on the same
// field path override earlier ones.
func mergePatchPayloads(a, b []byte) (json.RawMessage, error) {
	var opsA, opsB []patch.Op
	if err := json.Unmarshal(a, &opsA); err != nil {
		return nil, fmt.Errorf("decode first patch: %w", err)
	}
	if err := json.Unmarshal(b, &opsB); err != nil {
		return nil, fmt.Errorf("decode second patch: %w", err)
	}
	merged, err := json.Marshal(patch.Merge(opsA, opsB))
	if err != nil {
		return nil, fmt.Errorf("encode merged patch: %w", err)
	}
	return merged, nil
}

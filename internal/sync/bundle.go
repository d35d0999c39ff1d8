package sync

import (
	"errors"
	"fmt"

	"github.com/clinisync/clinisync/internal/model"
)

// ErrUnsupportedVerbCombination is returned at configuration time when the
// requested create/update verbs are not a supported pairing.
var ErrUnsupportedVerbCombination = errors.New("unsupported verb combination")

// GeneratorConfig selects the wire verbs used for squashed INSERT and UPDATE
// changes. Only the (create=PUT, update=PATCH) combination is currently
// supported: creates are idempotent put-by-id requests targeting the
// resource's own id, updates carry the merged patch as a partial body.
type GeneratorConfig struct {
	CreateVerb model.HTTPVerb
	UpdateVerb model.HTTPVerb
}

// DefaultGeneratorConfig is the supported verb pairing.
var DefaultGeneratorConfig = GeneratorConfig{
	CreateVerb: model.VerbPUT,
	UpdateVerb: model.VerbPATCH,
}

// Generator builds transaction bundles from groups of squashed changes.
type Generator struct {
	cfg GeneratorConfig
}

// NewGenerator validates the verb configuration up front, so an unsupported
// combination fails once at construction rather than per call.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.CreateVerb != model.VerbPUT || cfg.UpdateVerb != model.VerbPATCH {
		return nil, fmt.Errorf("%w: create=%s update=%s",
			ErrUnsupportedVerbCombination, cfg.CreateVerb, cfg.UpdateVerb)
	}
	return &Generator{cfg: cfg}, nil
}

// Generate builds one atomic transaction per non-empty group. Entry order
// within a bundle follows the supplied squashed-change order.
func (g *Generator) Generate(groups [][]model.SquashedChange) []Transaction {
	out := make([]Transaction, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}

		entries := make([]model.BundleEntry, 0, len(group))
		tokens := make([]model.ChangeToken, 0, len(group))
		for _, sc := range group {
			entries = append(entries, g.entry(sc.Change))
			tokens = append(tokens, sc.Token)
		}

		out = append(out, Transaction{
			Bundle: model.Bundle{
				ResourceType: model.TypeBundle,
				Type:         model.BundleTypeTransaction,
				Entry:        entries,
			},
			Tokens:  tokens,
			Changes: group,
		})
	}
	return out
}

// entry maps one squashed change to its bundle entry.
func (g *Generator) entry(c model.LocalChange) model.BundleEntry {
	url := c.ResourceType + "/" + c.ResourceID
	switch c.Type {
	case model.ChangeTypeInsert:
		return model.BundleEntry{
			Resource: c.Payload,
			Request:  &model.EntryRequest{Method: g.cfg.CreateVerb, URL: url},
		}
	case model.ChangeTypeUpdate:
		return model.BundleEntry{
			Resource: c.Payload,
			Request:  &model.EntryRequest{Method: g.cfg.UpdateVerb, URL: url},
		}
	default: // DELETE carries no body
		return model.BundleEntry{
			Request: &model.EntryRequest{Method: model.VerbDELETE, URL: url},
		}
	}
}

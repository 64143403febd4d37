// Package alias defines the canonical data model for name→species mappings:
// the grouped-by-species master form (the durable, human-editable source of
// truth), the flat index form (the derived, disposable cache), and the
// normalization rules shared by both.
package alias

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vogelwacht/telling/internal/cologne"
)

// Provenance tags recorded in [Record.Source].
const (
	// SourceSeedImport marks aliases that came from the seed dataset.
	SourceSeedImport = "seed_import"

	// SourceFieldTraining marks aliases learned from a user-confirmed
	// disambiguation in the field.
	SourceFieldTraining = "user_field_training"

	// SourceHotpatch marks transient in-memory aliases that have not yet
	// been flushed to durable storage.
	SourceHotpatch = "hotpatch"
)

// Record is one name variant bound to one species, in the flat index form
// used for fast sequential encoding and runtime map building.
type Record struct {
	// AliasID uniquely identifies this record. Master-derived records use a
	// deterministic id so repeated index builds agree; hot-patched records
	// get a generated one.
	AliasID string

	// SpeciesID identifies the species this variant resolves to. Never blank
	// for a persisted record.
	SpeciesID string

	// Canonical is the preferred display name of the species.
	Canonical string

	// TileName is the optional short form shown on counting tiles.
	TileName string

	// Alias is the raw variant text, lowercased.
	Alias string

	// Norm is the diacritic-stripped, whitespace-collapsed normalized form.
	Norm string

	// Cologne is the phonetic code of Norm. Empty when Norm has no
	// consonant content.
	Cologne string

	// Phonemes is an optional phoneme string supplied by the seed data.
	Phonemes string

	// Weight is a ranking hint, default 1.0.
	Weight float64

	// Source is the provenance tag: seed_import, user_field_training or
	// hotpatch.
	Source string
}

// Validate checks the persisted-record invariants: SpeciesID must be set and
// Alias and Norm must not both be blank.
func (r Record) Validate() error {
	var errs []error
	if strings.TrimSpace(r.SpeciesID) == "" {
		errs = append(errs, errors.New("alias: record species id is blank"))
	}
	if strings.TrimSpace(r.Alias) == "" && strings.TrimSpace(r.Norm) == "" {
		errs = append(errs, fmt.Errorf("alias: record %q has neither alias nor normalized form", r.AliasID))
	}
	return errors.Join(errs...)
}

// MasterAlias is one alias entry under a species in the master document.
type MasterAlias struct {
	// Text is the variant as entered. Stored verbatim; lowercasing and
	// normalization happen during index projection.
	Text string `yaml:"text"`

	// Phonemes is an optional phoneme string for the variant.
	Phonemes string `yaml:"phonemes,omitempty"`

	// Weight is a ranking hint. Zero means the default of 1.0.
	Weight float64 `yaml:"weight,omitempty"`

	// Source is the provenance tag. Empty entries default to seed_import.
	Source string `yaml:"source,omitempty"`
}

// MasterSpecies groups all aliases of one species in the master document.
type MasterSpecies struct {
	SpeciesID string        `yaml:"species_id"`
	Canonical string        `yaml:"canonical"`
	TileName  string        `yaml:"tile_name,omitempty"`
	Aliases   []MasterAlias `yaml:"aliases"`
}

// Master is the grouped-by-species canonical document — the durable source of
// truth. The flat index is always regenerated from it, never hand-edited.
type Master struct {
	Species []MasterSpecies `yaml:"species"`
}

// ToIndex projects the master document into the flat index form. The
// projection is pure and deterministic: the same master yields the same set
// of records (including alias ids) regardless of build count or input order.
// Entries that would violate the record invariants are dropped.
func (m *Master) ToIndex() []Record {
	if m == nil {
		return nil
	}
	var out []Record
	seen := make(map[string]struct{})
	for _, sp := range m.Species {
		if strings.TrimSpace(sp.SpeciesID) == "" {
			continue
		}
		for _, a := range sp.Aliases {
			rec := NewRecord(sp.SpeciesID, sp.Canonical, sp.TileName, a.Text, a.Phonemes, a.Weight, a.Source)
			if rec.Validate() != nil {
				continue
			}
			if _, dup := seen[rec.AliasID]; dup {
				continue
			}
			seen[rec.AliasID] = struct{}{}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AliasID < out[j].AliasID })
	return out
}

// NewRecord builds a single index record from raw master fields, computing
// the lowercased alias, normalized form, phonetic code and deterministic id.
func NewRecord(speciesID, canonical, tileName, text, phonemes string, weight float64, source string) Record {
	lowered := strings.ToLower(strings.TrimSpace(text))
	norm := Normalize(text)
	if weight == 0 {
		weight = 1.0
	}
	if source == "" {
		source = SourceSeedImport
	}
	return Record{
		AliasID:   speciesID + ":" + norm,
		SpeciesID: speciesID,
		Canonical: canonical,
		TileName:  tileName,
		Alias:     lowered,
		Norm:      norm,
		Cologne:   cologne.Encode(norm),
		Phonemes:  phonemes,
		Weight:    weight,
		Source:    source,
	}
}

// Upsert adds text as an alias of the given species in the master document,
// creating the species entry when absent. Duplicate alias texts (compared on
// the normalized form) are ignored. Returns true when the document changed.
func (m *Master) Upsert(speciesID, canonical, tileName, text, source string) bool {
	norm := Normalize(text)
	if norm == "" || strings.TrimSpace(speciesID) == "" {
		return false
	}
	for i := range m.Species {
		sp := &m.Species[i]
		if sp.SpeciesID != speciesID {
			continue
		}
		for _, a := range sp.Aliases {
			if Normalize(a.Text) == norm {
				return false
			}
		}
		sp.Aliases = append(sp.Aliases, MasterAlias{Text: text, Source: source})
		return true
	}
	m.Species = append(m.Species, MasterSpecies{
		SpeciesID: speciesID,
		Canonical: canonical,
		TileName:  tileName,
		Aliases:   []MasterAlias{{Text: text, Source: source}},
	})
	return true
}

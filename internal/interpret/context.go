package interpret

// Species is the display information for one species id.
type Species struct {
	// Canonical is the preferred display name.
	Canonical string

	// Short is the compact tile label, may be empty.
	Short string
}

// Context is the query-time scoping envelope. It is rebuilt whenever the
// active species set changes or the alias index reloads — cheap to
// reconstruct, safe to rebuild eagerly — and threaded explicitly into every
// interpretation call: the same utterance can resolve differently depending
// on which species are currently active.
type Context struct {
	// TileSpeciesIDs are the species currently shown and countable.
	TileSpeciesIDs map[string]struct{}

	// SiteAllowedIDs are the species valid for the current location.
	// Empty or nil means no site restriction.
	SiteAllowedIDs map[string]struct{}

	// RecentIDs are recently confirmed species, most recent first.
	RecentIDs []string

	// SpeciesByID resolves ids to display names.
	SpeciesByID map[string]Species
}

// InTiles reports whether id is currently active.
func (c Context) InTiles(id string) bool {
	_, ok := c.TileSpeciesIDs[id]
	return ok
}

// SiteAllows reports whether id is valid at the current site. A context
// without a site restriction allows everything.
func (c Context) SiteAllows(id string) bool {
	if len(c.SiteAllowedIDs) == 0 {
		return true
	}
	_, ok := c.SiteAllowedIDs[id]
	return ok
}

// recencyRank returns the position of id in RecentIDs, or -1.
func (c Context) recencyRank(id string) int {
	for i, r := range c.RecentIDs {
		if r == id {
			return i
		}
	}
	return -1
}

// DisplayName resolves the best display name for a species id, falling back
// to fallback when the id is unknown to the context.
func (c Context) DisplayName(id, fallback string) string {
	if sp, ok := c.SpeciesByID[id]; ok && sp.Canonical != "" {
		return sp.Canonical
	}
	return fallback
}

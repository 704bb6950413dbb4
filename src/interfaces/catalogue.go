package interfaces

// -----------------------------------------------------------------------------
// InstrumentCatalogue is the shared-instrument metadata store named in spec
// §1 ("a memory-mapped instrument catalogue"). Spec §9 flags its
// shared-memory-ness as an open question and treats it as an opaque
// read-mostly lookup; this interface is that opaque lookup (see DESIGN.md
// for the resolution).
// -----------------------------------------------------------------------------

type InstrumentCatalogue interface {
	// Register remembers the raw<->display mapping for an instrument,
	// populated when a client first subscribes (spec §3).
	Register(raw, display string)

	// Display translates a raw (upstream) instrument id to its display
	// (exchange-prefixed) form.
	Display(raw string) (string, bool)

	// Raw translates a display (downstream) instrument id back to the raw
	// upstream form.
	Raw(display string) (string, bool)

	// List returns every known raw instrument id.
	List() []string

	// Search performs a case-insensitive substring lookup over raw
	// instrument ids and their display names, returning raw ids (spec §6).
	Search(query string) []string
}

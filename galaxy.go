package bastion

// Catalog is the static galaxy reference data: system positions loaded at
// startup from the reference database.
type Catalog interface {
	// SystemsWithin returns the names of all catalogued systems within ly
	// light years of the named centre, the centre included.
	SystemsWithin(centre string, ly float64) ([]string, error)
	// Distance returns the straight-line distance between two systems.
	Distance(a, b string) (float64, error)
}

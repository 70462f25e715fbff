package demographics

import "sort"

// Observations buffers the labels seen per year.
// The runner keeps one per file and merges it only when the file succeeds.
type Observations struct {
	byYear map[int][]string
}

// NewObservations creates an empty buffer
func NewObservations() *Observations {
	return &Observations{byYear: make(map[int][]string)}
}

// Add records a label seen in a row of the given year
func (o *Observations) Add(year int, label string) {
	o.byYear[year] = append(o.byYear[year], label)
}

// Merge appends every observation of other
func (o *Observations) Merge(other *Observations) {
	for y, labels := range other.byYear {
		o.byYear[y] = append(o.byYear[y], labels...)
	}
}

// Years returns the observed years in ascending order
func (o *Observations) Years() []int {
	years := make([]int, 0, len(o.byYear))
	for y := range o.byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Labels returns the raw labels recorded for year
func (o *Observations) Labels(year int) []string {
	return o.byYear[year]
}

package inspect

// Stats summarizes a Dump.
type Stats struct {
	Version    string         `json:"version"`
	Objects    int            `json:"objects"`
	RootItems  int            `json:"root_items"`
	References int64          `json:"references"`
	DataBytes  int64          `json:"data_bytes"`
	ByClass    map[string]int `json:"by_class"`
}

// Summarize counts the rows of d. DataBytes is the encoded size of every
// root value and object row.
func Summarize(d *Dump) Stats {
	s := Stats{
		Version:   d.Version,
		Objects:   len(d.Objects),
		RootItems: len(d.Roots),
		ByClass:   make(map[string]int),
	}
	for _, rc := range d.Refcounts {
		s.References += rc.Count
	}
	for _, r := range d.Roots {
		s.DataBytes += int64(r.size)
	}
	for _, o := range d.Objects {
		s.ByClass[o.Class]++
		s.DataBytes += int64(o.size)
	}
	return s
}

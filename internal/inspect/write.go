package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteText writes d in a line-oriented form for terminals.
func WriteText(w io.Writer, d *Dump) error {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %s\n", d.Version)
	fmt.Fprintf(&b, "classes: %s\n", strings.Join(d.Classes, ", "))

	b.WriteString("refcounts:\n")
	for _, rc := range d.Refcounts {
		fmt.Fprintf(&b, "  #%d = %d\n", rc.OID, rc.Count)
	}

	b.WriteString("roots:\n")
	for _, r := range d.Roots {
		v, err := compact(r.Value)
		if err != nil {
			return fmt.Errorf("root %q: %w", r.Key, err)
		}
		fmt.Fprintf(&b, "  %s = %s\n", r.Key, v)
	}

	b.WriteString("objects:\n")
	for _, o := range d.Objects {
		v, err := compact(o.Data)
		if err != nil {
			return fmt.Errorf("object %d: %w", o.OID, err)
		}
		fmt.Fprintf(&b, "  #%d %s %s\n", o.OID, o.Class, v)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteStatsText writes s as aligned key/value lines.
func WriteStatsText(w io.Writer, s Stats) error {
	var b strings.Builder
	fmt.Fprintf(&b, "version:     %s\n", s.Version)
	fmt.Fprintf(&b, "objects:     %d\n", s.Objects)
	fmt.Fprintf(&b, "root items:  %d\n", s.RootItems)
	fmt.Fprintf(&b, "references:  %d\n", s.References)
	fmt.Fprintf(&b, "data:        %s\n", humanize.Bytes(uint64(s.DataBytes)))

	classes := make([]string, 0, len(s.ByClass))
	for c := range s.ByClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	for _, c := range classes {
		fmt.Fprintf(&b, "  %-10s %d\n", c, s.ByClass[c])
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func compact(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

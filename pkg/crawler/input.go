package crawler

import (
	"encoding/csv"
	"fmt"
	"os"

	"archivecrawl/pkg/source"
)

// Parcel is one input row: the group it belongs to and the parcel reference
type Parcel struct {
	Group string
	Ref   source.ParcelRef
}

var inputColumns = []string{"group", "gush", "chelka"}

// LoadParcels merges one or more input files into a deduplicated parcel
// list, preserving first-seen order. Loading fails fast when a file is
// missing a required column.
func LoadParcels(paths []string) ([]Parcel, error) {
	var out []Parcel
	dedup := make(map[string]struct{})

	for _, path := range paths {
		parcels, err := loadParcelFile(path)
		if err != nil {
			return nil, err
		}
		for _, p := range parcels {
			key := p.Group + "_" + p.Ref.Gush + "_" + p.Ref.Chelka
			if _, dup := dedup[key]; dup {
				continue
			}
			dedup[key] = struct{}{}
			out = append(out, p)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no parcels found in input files")
	}
	return out, nil
}

func loadParcelFile(path string) ([]Parcel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse input file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, name := range inputColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("input file %s: missing required column %q", path, name)
		}
	}

	out := make([]Parcel, 0, len(rows)-1)
	for _, row := range rows[1:] {
		p := Parcel{
			Group: row[col["group"]],
			Ref: source.ParcelRef{
				Gush:   row[col["gush"]],
				Chelka: row[col["chelka"]],
			},
		}
		if p.Group == "" || p.Ref.Gush == "" || p.Ref.Chelka == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

package positions

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// legacyTarget is one zone in transfer_positions.json. Values were written
// from text fields and may carry a fractional part.
type legacyTarget struct {
	X *float64 `json:"xpos"`
	Y *float64 `json:"ypos"`
	Z *float64 `json:"zpos"`
}

type legacyFile map[string]legacyTarget

// DecodeLegacy reads the transfer_positions.json format:
//
//	{"robomet_load": {"xpos": 0, "ypos": 0, "zpos": 0},
//	 "xz_transfer":  {...},
//	 "sras_load":    {...}}
//
// Missing zones or coordinates decode as zero and are reported in missing.
func DecodeLegacy(r io.Reader) (set Set, missing []Zone, err error) {
	var file legacyFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return Set{}, nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	for _, z := range Zones {
		lt, ok := file[string(z)]
		if !ok || lt.X == nil || lt.Y == nil || lt.Z == nil {
			missing = append(missing, z)
		}
		t := Target{X: legacyValue(lt.X), Y: legacyValue(lt.Y), Z: legacyValue(lt.Z)}
		set, _ = set.With(z, t) //nolint:errcheck // z comes from Zones
	}
	return set, missing, nil
}

// EncodeLegacy writes s in the transfer_positions.json format.
func EncodeLegacy(w io.Writer, s Set) error {
	out := make(map[string]map[string]int64, len(Zones))
	for _, z := range Zones {
		t, _ := s.Get(z) //nolint:errcheck // z comes from Zones
		out[string(z)] = map[string]int64{"xpos": t.X, "ypos": t.Y, "zpos": t.Z}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding positions: %w", err)
	}
	return nil
}

func legacyValue(v *float64) int64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return int64(math.Round(*v))
}

package detection

import (
	"sort"
	"strings"
)

// Plastics is the ordered list of resin classes the application tracks.
var Plastics = []string{"PET", "HDPE", "PVC", "LDPE", "PP", "PS"}

// DefaultStatCardLimit is the default number of classes shown as stat cards.
const DefaultStatCardLimit = 6

// Color is a BGR color triple as used by OpenCV drawing calls.
type Color struct {
	B, G, R uint8
}

var (
	colorDefault = Color{200, 200, 200}
	colorBlack   = Color{0, 0, 0}
	colorWhite   = Color{255, 255, 255}
)

var classColors = map[string]Color{
	"PET":  {0, 255, 255},
	"HDPE": {0, 165, 255},
	"LDPE": {0, 255, 0},
	"PVC":  {0, 0, 255},
	"PP":   {128, 128, 128},
	"PS":   {128, 0, 128},
}

// dark text reads better on these backgrounds
var darkText = map[string]bool{
	"PET":  true,
	"HDPE": true,
	"LDPE": true,
}

// Normalize maps a raw model label to the first target class it contains,
// compared case-insensitively in target order. When nothing matches the raw
// label is returned unchanged with matched=false. An empty label never matches.
func Normalize(raw string, targets []string) (string, bool) {
	if raw == "" {
		return raw, false
	}
	lower := strings.ToLower(raw)
	for _, t := range targets {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return t, true
		}
	}
	return raw, false
}

// ColorFor returns the box color and the label text color for a raw class label.
func ColorFor(raw string, targets []string) (box Color, text Color) {
	label, ok := Normalize(raw, targets)
	if !ok {
		return colorDefault, colorWhite
	}
	c, known := classColors[strings.ToUpper(label)]
	if !known {
		return colorDefault, colorWhite
	}
	if darkText[strings.ToUpper(label)] {
		return c, colorBlack
	}
	return c, colorWhite
}

// DeriveTargetClasses picks the classes displayed as stat cards from the model's
// class names: the known plastics the model can produce, in the order of Plastics,
// padded with the model's remaining class names up to limit. When the model
// offers nothing usable the Plastics list itself is returned.
func DeriveTargetClasses(modelNames []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultStatCardLimit
	}

	var out []string
	used := make(map[string]bool)
	for _, p := range Plastics {
		for _, name := range modelNames {
			if strings.Contains(strings.ToLower(name), strings.ToLower(p)) {
				out = append(out, p)
				used[strings.ToLower(name)] = true
				break
			}
		}
	}

	if len(out) < limit {
		rest := make([]string, 0, len(modelNames))
		for _, name := range modelNames {
			if name == "" || used[strings.ToLower(name)] {
				continue
			}
			if _, isPlastic := Normalize(name, out); isPlastic {
				continue
			}
			rest = append(rest, name)
		}
		sort.Strings(rest)
		for _, name := range rest {
			if len(out) >= limit {
				break
			}
			out = append(out, name)
		}
	}

	if len(out) == 0 {
		out = append(out, Plastics...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

package detection

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        string
		wantMatched bool
	}{
		{name: "exact", raw: "PET", want: "PET", wantMatched: true},
		{name: "case insensitive", raw: "pet_bottle", want: "PET", wantMatched: true},
		{name: "first target wins", raw: "hdpe-pvc", want: "HDPE", wantMatched: true},
		{name: "no match", raw: "glass", want: "glass", wantMatched: false},
		{name: "empty label", raw: "", want: "", wantMatched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := Normalize(tt.raw, Plastics)
			if got != tt.want || matched != tt.wantMatched {
				t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", tt.raw, got, matched, tt.want, tt.wantMatched)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, raw := range []string{"PET", "pet bottle", "Class_7", "", "LDPE film", "polystyrene PS"} {
		once, _ := Normalize(raw, Plastics)
		twice, _ := Normalize(once, Plastics)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", raw, once, twice)
		}
	}
}

func TestFilterForDisplay_Monotone(t *testing.T) {
	dets := []Detection{
		{Class: "PET", Confidence: 0.9},
		{Class: "HDPE", Confidence: 0.3},
		{Class: "PVC", Confidence: 0.5},
		{Class: "PP", Confidence: 0.01},
	}
	thresholds := []float64{0, 0.01, 0.3, 0.5, 0.9, 1}

	for i := 0; i < len(thresholds); i++ {
		for j := i; j < len(thresholds); j++ {
			lo := FilterForDisplay(dets, thresholds[i])
			hi := FilterForDisplay(dets, thresholds[j])
			if len(hi) > len(lo) {
				t.Fatalf("filter(%v) has %d items, more than filter(%v) with %d", thresholds[j], len(hi), thresholds[i], len(lo))
			}
			for _, d := range hi {
				found := false
				for _, l := range lo {
					if reflect.DeepEqual(d, l) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("filter(%v) contains %+v which filter(%v) lacks", thresholds[j], d, thresholds[i])
				}
			}
		}
	}

	if got := FilterForDisplay(dets, 0.5); len(got) != 2 || got[0].Class != "PET" || got[1].Class != "PVC" {
		t.Errorf("FilterForDisplay(0.5) = %+v, want PET then PVC", got)
	}
}

func TestBox_IoU(t *testing.T) {
	a := Box{0, 0, 10, 10}
	if got := a.IoU(a); got != 1 {
		t.Errorf("IoU(self) = %v, want 1", got)
	}
	if got := a.IoU(Box{20, 20, 30, 30}); got != 0 {
		t.Errorf("IoU(disjoint) = %v, want 0", got)
	}
	got := a.IoU(Box{5, 0, 15, 10})
	if want := 50.0 / 150.0; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("IoU(half) = %v, want %v", got, want)
	}
}

func TestDetection_JSON(t *testing.T) {
	id := 4
	in := Detection{Class: "PET", Confidence: 0.875, Box: Box{1, 2, 30, 40}, TrackID: &id}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"class":"PET","conf":0.875,"box":[1,2,30,40],"track_id":4}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestDetection_UnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "missing conf", payload: `{"class":"PET","box":[1,2,3,4]}`},
		{name: "conf above one", payload: `{"class":"PET","conf":1.5,"box":[1,2,3,4]}`},
		{name: "short box", payload: `{"class":"PET","conf":0.5,"box":[1,2,3]}`},
		{name: "not an object", payload: `"PET"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Detection
			if err := json.Unmarshal([]byte(tt.payload), &d); err == nil {
				t.Errorf("Unmarshal(%s) succeeded, want error", tt.payload)
			}
		})
	}
}

func TestColorFor(t *testing.T) {
	box, text := ColorFor("pet", Plastics)
	if box != (Color{0, 255, 255}) || text != (Color{0, 0, 0}) {
		t.Errorf("ColorFor(pet) = %v, %v", box, text)
	}
	box, text = ColorFor("PVC pipe", Plastics)
	if box != (Color{0, 0, 255}) || text != (Color{255, 255, 255}) {
		t.Errorf("ColorFor(PVC pipe) = %v, %v", box, text)
	}
	box, text = ColorFor("glass", Plastics)
	if box != (Color{200, 200, 200}) || text != (Color{255, 255, 255}) {
		t.Errorf("ColorFor(glass) = %v, %v", box, text)
	}
}

func TestDeriveTargetClasses(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		limit int
		want  []string
	}{
		{
			name:  "plastics in defined order",
			names: []string{"PP", "PET", "HDPE"},
			limit: 6,
			want:  []string{"PET", "HDPE", "PP"},
		},
		{
			name:  "padded with other names",
			names: []string{"pet_bottle", "can", "bag"},
			limit: 3,
			want:  []string{"PET", "bag", "can"},
		},
		{
			name:  "capped at limit",
			names: []string{"PET", "HDPE", "PVC", "LDPE", "PP", "PS"},
			limit: 4,
			want:  []string{"PET", "HDPE", "PVC", "LDPE"},
		},
		{
			name:  "fallback when empty",
			names: nil,
			limit: 6,
			want:  Plastics,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveTargetClasses(tt.names, tt.limit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DeriveTargetClasses() = %v, want %v", got, tt.want)
			}
		})
	}
}

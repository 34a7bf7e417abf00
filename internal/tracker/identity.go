package tracker

// Identities maps a track ID to the class label it was bound to on first sighting.
// An identity stays bound while the tracker keeps reporting it and is forgotten
// in the first frame it is missing.
type Identities map[int]string

// Labelled is a track paired with the label it is displayed under.
type Labelled struct {
	Track
	Label string
}

// Label returns the label bound to id.
func (ids Identities) Label(id int) (string, bool) {
	l, ok := ids[id]
	return l, ok
}

// Reconcile applies one frame of tracker output. It returns the next identity
// map (only IDs present in tracks), every track with its display label, and the
// tracks whose identities were bound in this frame. className resolves the
// class reported by the detector, which is only used for unseen identities.
// The receiver is not modified.
func (ids Identities) Reconcile(tracks []Track, className func(classID int) string) (next Identities, display []Labelled, fresh []Labelled) {
	next = make(Identities, len(tracks))
	display = make([]Labelled, 0, len(tracks))

	for _, tr := range tracks {
		label, bound := ids[tr.ID]
		if !bound {
			label, bound = next[tr.ID]
		}
		if !bound {
			label = className(tr.ClassID)
			fresh = append(fresh, Labelled{Track: tr, Label: label})
		}
		next[tr.ID] = label
		display = append(display, Labelled{Track: tr, Label: label})
	}

	return next, display, fresh
}

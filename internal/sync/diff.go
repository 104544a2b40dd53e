package sync

import "sort"

// Diff is the three-way partition of a full remote ID listing against
// the prior mirror state: New and Gone are the two set differences,
// Changed is the intersection whose label sets must be re-checked. The
// three sets are pairwise disjoint by construction and their union is
// remote ∪ local. Outputs are sorted so a given input always produces
// the same result.
type Diff struct {
	New     []string
	Changed []string
	Gone    []string
}

// ComputeDiff partitions the remote ID set against the local mirror.
// remote must be the complete listing (all pages drained); diffing a
// partial page would tombstone everything the page missed.
func ComputeDiff(remote []string, local map[string]bool) Diff {
	var d Diff

	remoteSet := make(map[string]bool, len(remote))
	for _, id := range remote {
		if remoteSet[id] {
			continue
		}
		remoteSet[id] = true
		if local[id] {
			d.Changed = append(d.Changed, id)
		} else {
			d.New = append(d.New, id)
		}
	}

	for id := range local {
		if !remoteSet[id] {
			d.Gone = append(d.Gone, id)
		}
	}

	sort.Strings(d.New)
	sort.Strings(d.Changed)
	sort.Strings(d.Gone)
	return d
}

// LabelDelta is the per-item drift between the remote label set and the
// locally recorded one.
type LabelDelta struct {
	Add    []string // remote − local
	Remove []string // local − remote
}

// Empty reports whether the item's label sets already agree.
func (d LabelDelta) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// ComputeLabelDelta computes the set differences between the remote and
// local label sets for one item, sorted for determinism.
func ComputeLabelDelta(remote, local []string) LabelDelta {
	remoteSet := make(map[string]bool, len(remote))
	for _, l := range remote {
		remoteSet[l] = true
	}
	localSet := make(map[string]bool, len(local))
	for _, l := range local {
		localSet[l] = true
	}

	var delta LabelDelta
	for l := range remoteSet {
		if !localSet[l] {
			delta.Add = append(delta.Add, l)
		}
	}
	for l := range localSet {
		if !remoteSet[l] {
			delta.Remove = append(delta.Remove, l)
		}
	}

	sort.Strings(delta.Add)
	sort.Strings(delta.Remove)
	return delta
}

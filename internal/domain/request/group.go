package request

import (
	"fmt"
	"time"
)

// GroupKey identifies a patient-visit group: all items for one subject
// created inside the same time bucket.
type GroupKey struct {
	SubjectID string
	Bucket    time.Time
}

// String renders the key the way the upstream system does:
// "<cardNumber>-<epochMillis>".
func (k GroupKey) String() string {
	return fmt.Sprintf("%s-%d", k.SubjectID, k.Bucket.UnixMilli())
}

// Group is the unit of settlement. Items are append-only during grouping
// and never reordered; membership is fixed once the group is built.
type Group struct {
	Key         GroupKey
	SubjectID   string
	SubjectName string
	Clinician   string
	Department  string
	BatchID     string
	CreatedAt   time.Time
	Items       []Item
}

// Status derives the group status from the multiset of its items' statuses.
// The aggregation is all-or-nothing: a group counts as paid (or waiting)
// only when every item is, and any mix falls back to ORDERED.
func (g *Group) Status() Status {
	if len(g.Items) == 0 {
		return StatusOrdered
	}

	allPaid, allWaiting := true, true
	for i := range g.Items {
		if g.Items[i].Status != StatusPaid {
			allPaid = false
		}
		if g.Items[i].Status != StatusWaitingForPayment {
			allWaiting = false
		}
	}

	switch {
	case allPaid:
		return StatusPaid
	case allWaiting:
		return StatusWaitingForPayment
	default:
		return StatusOrdered
	}
}

// Item returns the item with the given ID, or nil.
func (g *Group) Item(itemID string) *Item {
	for i := range g.Items {
		if g.Items[i].ID == itemID {
			return &g.Items[i]
		}
	}
	return nil
}

// Grouper partitions normalized items into groups keyed by
// (subject, time bucket).
type Grouper struct {
	// Resolution is the bucket width for the group key. Zero means the
	// exact origin instant, matching the upstream system's
	// millisecond-precise keying.
	Resolution time.Duration
}

func (g Grouper) bucket(t time.Time) time.Time {
	if g.Resolution <= 0 {
		return t
	}
	return t.Truncate(g.Resolution)
}

// Group partitions items into groups, preserving first-seen group order.
// Grouping imposes no presentation order; callers re-sort for display.
// Groups never come out empty: an item always lands in its group, and
// upstream filtering already removed non-candidates.
func (g Grouper) Group(items []AnnotatedItem) []*Group {
	index := make(map[GroupKey]*Group, len(items))
	var out []*Group

	for i := range items {
		it := &items[i]
		key := GroupKey{SubjectID: it.SubjectID, Bucket: g.bucket(it.CreatedAt)}

		grp, ok := index[key]
		if !ok {
			grp = &Group{
				Key:         key,
				SubjectID:   it.SubjectID,
				SubjectName: it.SubjectName,
				Clinician:   it.Clinician,
				Department:  it.Department,
				BatchID:     it.BatchID,
				CreatedAt:   it.CreatedAt,
			}
			index[key] = grp
			out = append(out, grp)
		}
		grp.Items = append(grp.Items, it.Item)
	}

	return out
}

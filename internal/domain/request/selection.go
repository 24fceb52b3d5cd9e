package request

import (
	"sync"

	"github.com/shopspring/decimal"
)

// entry is the mutable per-item selection state.
type entry struct {
	included bool
	amount   decimal.Decimal
	// lastAmount remembers the last non-zero override so that toggling an
	// item off and back on restores the operator's price.
	lastAmount decimal.Decimal
}

// Selection is the ephemeral working set for one group being prepared for
// settlement. It is mutex-guarded for concurrency-safe mutation, but exactly
// one in-flight settlement may own it at a time; callers serialize settle
// attempts per group.
type Selection struct {
	mu       sync.Mutex
	group    *Group
	perItem  map[string]*entry
	panels   map[string]bool
	inFlight bool
}

// NewSelection builds the default selection for a group: every item
// included at its original price.
func NewSelection(group *Group) *Selection {
	s := &Selection{
		group:   group,
		perItem: make(map[string]*entry, len(group.Items)),
		panels:  make(map[string]bool),
	}
	for i := range group.Items {
		it := &group.Items[i]
		s.perItem[it.ID] = &entry{
			included:   true,
			amount:     it.Price,
			lastAmount: it.Price,
		}
	}
	return s
}

// Group returns the group this selection was built for.
func (s *Selection) Group() *Group { return s.group }

// LockPanel marks a category as a committed panel. Items in a committed
// panel cannot be individually excluded until the panel is released.
func (s *Selection) LockPanel(categoryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[categoryID] = true
}

// ReleasePanel releases a committed panel.
func (s *Selection) ReleasePanel(categoryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.panels, categoryID)
}

// Toggle sets an item's inclusion. Excluding zeroes the amount; re-including
// restores the last non-zero override, falling back to the item's price.
// Excluding an item whose category is locked as a committed panel fails with
// ErrConstraintViolation rather than being silently ignored.
func (s *Selection) Toggle(itemID string, included bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.perItem[itemID]
	if !ok {
		return ErrUnknownItem
	}

	if !included {
		item := s.group.Item(itemID)
		if item != nil && s.panels[item.CategoryID] {
			return ErrConstraintViolation
		}
		if e.amount.IsPositive() {
			e.lastAmount = e.amount
		}
		e.included = false
		e.amount = decimal.Zero
		return nil
	}

	e.included = true
	if e.lastAmount.IsPositive() {
		e.amount = e.lastAmount
	} else if item := s.group.Item(itemID); item != nil {
		e.amount = item.Price
	}
	return nil
}

// SetAmount overrides the amount for an included item. The amount is
// clamped to >= 0. Excluded items cannot carry an amount.
func (s *Selection) SetAmount(itemID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.perItem[itemID]
	if !ok {
		return ErrUnknownItem
	}
	if !e.included {
		return ErrItemNotIncluded
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	e.amount = amount
	if amount.IsPositive() {
		e.lastAmount = amount
	}
	return nil
}

// Total sums the amounts of all included items. Recomputed on every call;
// nothing here is cached.
func (s *Selection) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, e := range s.perItem {
		if e.included {
			total = total.Add(e.amount)
		}
	}
	return total
}

// Reset restores every item to included at its original price. The reset is
// refused with ErrStateLocked, leaving state untouched, while a settlement
// on this selection is in flight.
func (s *Selection) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return ErrStateLocked
	}

	for i := range s.group.Items {
		it := &s.group.Items[i]
		e := s.perItem[it.ID]
		e.included = true
		e.amount = it.Price
		e.lastAmount = it.Price
	}
	return nil
}

// ItemSelection is an immutable view of one item's selection state.
type ItemSelection struct {
	Item     Item
	Included bool
	Amount   decimal.Decimal
}

// Snapshot returns the current selection in group item order.
func (s *Selection) Snapshot() []ItemSelection {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ItemSelection, 0, len(s.group.Items))
	for i := range s.group.Items {
		it := s.group.Items[i]
		e := s.perItem[it.ID]
		out = append(out, ItemSelection{Item: it, Included: e.included, Amount: e.amount})
	}
	return out
}

// BeginSettle claims the selection for a settlement attempt. It fails with
// ErrSettlementInFlight if another attempt already owns it.
func (s *Selection) BeginSettle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrSettlementInFlight
	}
	s.inFlight = true
	return nil
}

// EndSettle releases the selection after a settlement attempt.
func (s *Selection) EndSettle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
}

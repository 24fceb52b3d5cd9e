package request

import "testing"

func filterFixture() []*Group {
	return []*Group{
		{
			SubjectID:   "CARD-100",
			SubjectName: "Abeba Kebede",
			Items:       []Item{{ID: "1", Status: StatusPaid}},
		},
		{
			SubjectID:   "CARD-200",
			SubjectName: "Mulu Haile",
			Items:       []Item{{ID: "2", Status: StatusWaitingForPayment}},
		},
		{
			SubjectID:   "CARD-300",
			SubjectName: "Abebe Bikila",
			Items:       []Item{{ID: "3", Status: StatusOrdered}},
		},
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name      string
		term      string
		statusTab string
		want      []string
	}{
		{"no criteria", "", "", []string{"CARD-100", "CARD-200", "CARD-300"}},
		{"all tab", "", StatusTabAll, []string{"CARD-100", "CARD-200", "CARD-300"}},
		{"name case-insensitive", "aBeB", "", []string{"CARD-100", "CARD-300"}},
		{"card number", "card-200", "", []string{"CARD-200"}},
		{"term with whitespace", "  mulu ", "", []string{"CARD-200"}},
		{"status tab", "", string(StatusWaitingForPayment), []string{"CARD-200"}},
		{"term and status", "abeb", string(StatusPaid), []string{"CARD-100"}},
		{"no match", "nobody", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := filterFixture()
			got := Filter(groups, tt.term, tt.statusTab)

			if len(got) != len(tt.want) {
				t.Fatalf("expected %d groups, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].SubjectID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].SubjectID)
				}
			}
		})
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	groups := filterFixture()
	Filter(groups, "mulu", string(StatusWaitingForPayment))

	if len(groups) != 3 {
		t.Fatalf("input slice was mutated: %d groups", len(groups))
	}
	for i, id := range []string{"CARD-100", "CARD-200", "CARD-300"} {
		if groups[i].SubjectID != id {
			t.Errorf("input order changed at %d: %s", i, groups[i].SubjectID)
		}
	}
}

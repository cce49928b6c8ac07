package pipeline

import "testing"

func filesOf(sizes ...int) []fetchedFile {
	out := make([]fetchedFile, len(sizes))
	for i, n := range sizes {
		out[i] = fetchedFile{name: "f", data: make([]byte, n)}
	}
	return out
}

func TestSplitFiles(t *testing.T) {
	const mib = 1 << 20

	tests := []struct {
		name       string
		sizes      []int
		wantGroups []int // files per group
	}{
		{"empty", nil, nil},
		{"single small file", []int{100}, []int{1}},
		{"under threshold ships whole", []int{3 * mib, 4 * mib}, []int{2}},
		{"exactly at threshold", []int{splitThresholdBytes}, []int{1}},
		{"one byte over threshold splits", []int{splitThresholdBytes/2 + 1, splitThresholdBytes/2 + 1}, []int{1, 1}},
		{"four small files split by count", []int{10, 10, 10, 10}, []int{3, 1}},
		{"group byte budget respected", []int{5 * mib, 5 * mib, 5 * mib}, []int{1, 1, 1}},
		{"mixed packing", []int{mib, mib, mib, mib, mib, mib, mib, mib}, []int{3, 3, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := splitFiles(filesOf(tt.sizes...))
			if len(groups) != len(tt.wantGroups) {
				t.Fatalf("got %d groups, want %d", len(groups), len(tt.wantGroups))
			}
			for i, want := range tt.wantGroups {
				if len(groups[i]) != want {
					t.Errorf("group %d has %d files, want %d", i, len(groups[i]), want)
				}
				bytes := 0
				for _, f := range groups[i] {
					bytes += f.size()
				}
				// The byte budget binds the groups of an actual split; a
				// whole-message send may carry up to the split threshold.
				if len(groups) > 1 && len(groups[i]) > 1 && bytes > groupBudgetBytes {
					t.Errorf("group %d holds %d bytes, budget %d", i, bytes, groupBudgetBytes)
				}
			}
		})
	}
}

func TestSplitFiles_PreservesOrder(t *testing.T) {
	files := []fetchedFile{
		{name: "a", data: make([]byte, 10)},
		{name: "b", data: make([]byte, 10)},
		{name: "c", data: make([]byte, 10)},
		{name: "d", data: make([]byte, 10)},
	}
	groups := splitFiles(files)
	var flat []string
	for _, g := range groups {
		for _, f := range g {
			flat = append(flat, f.name)
		}
	}
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if flat[i] != want[i] {
			t.Fatalf("order = %v, want %v", flat, want)
		}
	}
}

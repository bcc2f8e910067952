package weakness

import "testing"

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		itemID string
		want   string
	}{
		{"arrays/two-sum", "arrays"},
		{"pack/graphs/bfs", "graphs"},
		{"go-v1/Concurrency/worker-pool", "concurrency"},
		{"/strings/reverse/", "strings"},
		{"two-sum", "general"},
		{"", "general"},
	}

	for _, tt := range tests {
		t.Run(tt.itemID, func(t *testing.T) {
			got := CategoryOf(tt.itemID)
			if got != tt.want {
				t.Errorf("CategoryOf(%q) = %q; want %q", tt.itemID, got, tt.want)
			}
		})
	}
}

func TestPackOf(t *testing.T) {
	tests := []struct {
		itemID string
		want   string
	}{
		{"go-v1/graphs/bfs", "go-v1"},
		{"arrays/two-sum", ""},
		{"single", ""},
	}

	for _, tt := range tests {
		if got := PackOf(tt.itemID); got != tt.want {
			t.Errorf("PackOf(%q) = %q; want %q", tt.itemID, got, tt.want)
		}
	}
}

func TestSlugOf(t *testing.T) {
	tests := []struct {
		itemID string
		want   string
	}{
		{"go-v1/graphs/bfs", "bfs"},
		{"arrays/two-sum", "two-sum"},
		{"single", "single"},
	}

	for _, tt := range tests {
		if got := SlugOf(tt.itemID); got != tt.want {
			t.Errorf("SlugOf(%q) = %q; want %q", tt.itemID, got, tt.want)
		}
	}
}

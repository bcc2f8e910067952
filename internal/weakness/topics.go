package weakness

import (
	"strings"
)

// DefaultCategory is used for item ids that carry no category segment.
const DefaultCategory = "general"

// CategoryOf derives a category from a practice item ID
// Item ID format: "category/slug" or "pack/category/slug"
// Examples:
//   - "arrays/two-sum" -> "arrays"
//   - "go-v1/graphs/bfs" -> "graphs"
//   - "two-sum" -> "general"
func CategoryOf(itemID string) string {
	parts := strings.Split(strings.Trim(itemID, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[1] != "":
		return strings.ToLower(parts[1])
	case len(parts) == 2 && parts[0] != "":
		return strings.ToLower(parts[0])
	default:
		return DefaultCategory
	}
}

// PackOf extracts the pack from a three-segment item ID, or "" if there is none
// Examples:
//   - "go-v1/graphs/bfs" -> "go-v1"
//   - "arrays/two-sum" -> ""
func PackOf(itemID string) string {
	parts := strings.Split(itemID, "/")
	if len(parts) >= 3 {
		return parts[0]
	}
	return ""
}

// SlugOf extracts the last segment of an item ID
func SlugOf(itemID string) string {
	if idx := strings.LastIndex(itemID, "/"); idx >= 0 {
		return itemID[idx+1:]
	}
	return itemID
}

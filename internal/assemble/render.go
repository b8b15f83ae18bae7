package assemble

import (
	"fmt"
	"strings"

	"github.com/lazypower/hippocampus/internal/store"
)

// metadataLine renders tier 1: "[id] Name (N facts)".
func metadataLine(id, name string, count int) string {
	return fmt.Sprintf("[%s] %s (%d facts)", id, name, count)
}

// profilesLine renders tier 2: "[id] Name: user.dad(2), user.sister(1)".
func profilesLine(id, name string, profiles []store.ProfileCount) string {
	parts := make([]string, len(profiles))
	for i, p := range profiles {
		parts[i] = fmt.Sprintf("%s(%d)", p.ProfileID, p.Facts)
	}
	return fmt.Sprintf("[%s] %s: %s", id, name, strings.Join(parts, ", "))
}

// headerLine opens a tier 3 block.
func headerLine(id, name string) string {
	return fmt.Sprintf("[%s] %s", id, name)
}

// factLine renders "domain.profile.key: value" on one line.
func factLine(f *store.Fact, v store.Verbosity) string {
	text := strings.Join(strings.Fields(f.Text(v)), " ")
	return f.QualifiedKey() + ": " + text
}

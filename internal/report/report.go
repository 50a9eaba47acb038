package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/zjrosen/rostersync/internal/reconcile"
	"github.com/zjrosen/rostersync/internal/registry"
)

const (
	// PageSize is the number of members shown per listing page.
	PageSize = 25

	// DefaultTag is the community tag members are expected to carry.
	DefaultTag = "PUFF"
)

// HasTag reports whether name contains tag, ignoring case.
// An empty tag matches everything.
func HasTag(name, tag string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(tag))
}

// Untagged returns the members whose display name lacks tag, in the order
// given. Members with no display name yet are skipped; there is nothing to
// check until reconciliation fills it in.
func Untagged(members []registry.Member, tag string) []registry.Member {
	var out []registry.Member
	for _, m := range members {
		if strings.TrimSpace(m.DisplayName) == "" {
			continue
		}
		if !HasTag(m.DisplayName, tag) {
			out = append(out, m)
		}
	}
	return out
}

// SortByDisplayName orders members case-insensitively by display name,
// falling back to the key.
func SortByDisplayName(members []registry.Member) {
	slices.SortStableFunc(members, func(a, b registry.Member) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)),
			cmp.Compare(a.Key, b.Key),
		)
	})
}

// Page is one slice of a sorted member listing.
type Page struct {
	Members []registry.Member `json:"members"`
	First   int               `json:"first"`
	Last    int               `json:"last"`
	Total   int               `json:"total"`
}

// Footer describes the page position, e.g. "Showing 26-50 of 60 members".
func (p Page) Footer() string {
	return fmt.Sprintf("Showing %d-%d of %d members", p.First, p.Last, p.Total)
}

// Pages sorts a copy of members by display name and splits it into pages of
// size entries. A size <= 0 uses PageSize.
func Pages(members []registry.Member, size int) []Page {
	if size <= 0 {
		size = PageSize
	}
	sorted := slices.Clone(members)
	SortByDisplayName(sorted)

	pages := make([]Page, 0, (len(sorted)+size-1)/size)
	for i := 0; i < len(sorted); i += size {
		end := min(i+size, len(sorted))
		pages = append(pages, Page{
			Members: sorted[i:end],
			First:   i + 1,
			Last:    end,
			Total:   len(sorted),
		})
	}
	return pages
}

// FormatPage renders one listing page, one member per line.
func FormatPage(p Page) string {
	lines := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		lines = append(lines, fmt.Sprintf("**%s** | %s", m.DisplayName, m.Key))
	}
	return strings.Join(lines, "\n")
}

// FormatUntagged renders the untagged report with a mention for each owner.
func FormatUntagged(members []registry.Member) string {
	lines := make([]string, 0, len(members))
	for _, m := range members {
		lines = append(lines, fmt.Sprintf("⚠️ **%s** | %s <@%s>", m.DisplayName, m.Key, m.OwnerRef))
	}
	return strings.Join(lines, "\n")
}

// FormatChanges renders the display name changes of a pass.
func FormatChanges(changes []reconcile.Change) string {
	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		lines = append(lines, fmt.Sprintf("🔄 **%s**: `%s` → `%s`", c.Key, c.Previous, c.Current))
	}
	return strings.Join(lines, "\n")
}

// Mentions joins the owner mentions of members with spaces.
func Mentions(members []registry.Member) string {
	refs := make([]string, 0, len(members))
	for _, m := range members {
		refs = append(refs, "<@"+m.OwnerRef+">")
	}
	return strings.Join(refs, " ")
}

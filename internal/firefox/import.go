package firefox

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/groups"
	"github.com/lotas/tabgrouper/internal/types"
)

// DefaultUngroupedName receives tabs that are in no Firefox group.
const DefaultUngroupedName = "Ungrouped"

const unnamedGroup = "Unnamed group"

// ImportResult counts what an import did.
type ImportResult struct {
	Created int
	Added   int
	Skipped int
}

// GroupName maps a Firefox group name to a valid group name: blank names
// get a placeholder and long names are cut to the limit.
func GroupName(name string) string {
	name = groups.NormalizeName(name)
	if name == "" {
		return unnamedGroup
	}
	if utf8.RuneCountInString(name) > types.MaxGroupNameLen {
		name = strings.TrimSpace(string([]rune(name)[:types.MaxGroupNameLen]))
	}
	return name
}

// Import adds every tab of s to repo, creating groups as needed. Tabs whose
// URL is already in the target group are skipped. An empty ungrouped name
// leaves ungrouped tabs out.
func Import(ctx context.Context, repo *groups.Repository, s *Session, ungrouped string) (ImportResult, error) {
	var res ImportResult
	for _, sg := range s.Groups {
		name := GroupName(sg.Name)
		if sg.Ungrouped {
			if ungrouped == "" {
				res.Skipped += len(sg.Tabs)
				continue
			}
			name = GroupName(ungrouped)
		}

		r, err := repo.CreateGroup(ctx, name)
		if err != nil {
			return res, fmt.Errorf("import group %q: %w", name, err)
		}
		switch r {
		case groups.Applied:
			res.Created++
		case groups.AlreadyExists:
		default:
			return res, fmt.Errorf("import group %q: %s", name, r.Reason())
		}

		for _, tab := range sg.Tabs {
			r, err := repo.AddTab(ctx, name, tab)
			if err != nil {
				return res, fmt.Errorf("import tab %s: %w", tab.URL, err)
			}
			if r == groups.Applied {
				res.Added++
			} else {
				res.Skipped++
			}
		}
	}
	applog.Info("firefox.import", "created", res.Created, "added", res.Added, "skipped", res.Skipped)
	return res, nil
}

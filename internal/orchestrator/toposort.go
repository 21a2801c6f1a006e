package orchestrator

import (
	"sort"
	"strings"

	"github.com/mhollis/docmigrate/internal/logging"
	"github.com/mhollis/docmigrate/internal/source"
)

// orderByDependency groups tables into levels where every foreign-key
// parent sits in an earlier level than its children. Levels run
// sequentially; tables within a level transfer concurrently. Cycles
// are broken alphabetically with a warning, since a cyclic pair can
// only be loaded by deferring constraint checks anyway and the retry
// pass picks up the stragglers.
func orderByDependency(tables []source.Table) [][]source.Table {
	byName := make(map[string]int, len(tables))
	for i, t := range tables {
		byName[strings.ToLower(t.FullName())] = i
	}

	// deps[i] holds the indexes table i references, self-references and
	// references to absent tables ignored.
	deps := make(map[int]map[int]bool, len(tables))
	for i, t := range tables {
		deps[i] = make(map[int]bool)
		for _, fk := range t.ForeignKeys {
			ref := strings.ToLower(fk.RefSchema + "." + fk.RefTable)
			if j, ok := byName[ref]; ok && j != i {
				deps[i][j] = true
			}
		}
	}

	var levels [][]source.Table
	placed := make([]bool, len(tables))
	remaining := len(tables)

	for remaining > 0 {
		var ready []int
		for i := range tables {
			if placed[i] {
				continue
			}
			ok := true
			for j := range deps[i] {
				if !placed[j] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, i)
			}
		}

		if len(ready) == 0 {
			// Cycle: pick the alphabetically first unplaced table so
			// the order stays deterministic.
			var names []string
			idx := make(map[string]int)
			for i := range tables {
				if !placed[i] {
					n := strings.ToLower(tables[i].FullName())
					names = append(names, n)
					idx[n] = i
				}
			}
			sort.Strings(names)
			pick := idx[names[0]]
			logging.Warn("Foreign key cycle involving %d tables; loading %s first, retry pass will settle the rest",
				len(names), tables[pick].FullName())
			ready = []int{pick}
		}

		sort.Slice(ready, func(a, b int) bool {
			return tables[ready[a]].FullName() < tables[ready[b]].FullName()
		})
		level := make([]source.Table, 0, len(ready))
		for _, i := range ready {
			level = append(level, tables[i])
			placed[i] = true
			remaining--
		}
		levels = append(levels, level)
	}
	return levels
}

// missingParents reports tables referenced by the selection but not
// part of it. A subset run with absent parents will spray foreign-key
// failures, so it is refused unless forced.
func missingParents(selected []source.Table, all []source.Table) []string {
	have := make(map[string]bool)
	for _, t := range selected {
		have[strings.ToLower(t.FullName())] = true
	}
	known := make(map[string]bool)
	for _, t := range all {
		known[strings.ToLower(t.FullName())] = true
	}

	missing := make(map[string]bool)
	for _, t := range selected {
		for _, fk := range t.ForeignKeys {
			ref := strings.ToLower(fk.RefSchema + "." + fk.RefTable)
			if known[ref] && !have[ref] {
				missing[ref] = true
			}
		}
	}

	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Package study holds the fixed catalog of motion pairs compared in the
// perception study.
package study

import (
	"fmt"
	"path/filepath"
)

// Categories are the effort qualities varied between the two motions of a pair.
var Categories = []string{"weight", "space", "time", "flow"}

// Actions are the recorded movements, in catalog order within a category.
var Actions = []string{"walk", "wave", "sit", "put"}

// SelfCheckFiles are compared against themselves as a sanity check.
var SelfCheckFiles = []string{
	"walk-low-weight.bvh",
	"wave-high-space.bvh",
	"sit-low-time.bvh",
}

// SelfCheckTolerance is the largest MPJPE a self-comparison may report.
const SelfCheckTolerance = 0.001

// Pair is one low/high comparison.
type Pair struct {
	Category int // 1-based index into Categories
	Index    int // 1-based position within the category
	Left     string
	Right    string
}

// CategoryName returns the effort quality of the pair.
func (p Pair) CategoryName() string {
	return Categories[p.Category-1]
}

// Label identifies the pair in reports.
func (p Pair) Label() string {
	return fmt.Sprintf("%s vs %s", p.Left, p.Right)
}

// Resolve returns the pair's file paths under dir.
func (p Pair) Resolve(dir string) (left, right string) {
	return filepath.Join(dir, p.Left), filepath.Join(dir, p.Right)
}

// CategoryPairs returns the pairs of one category, 1-based.
func CategoryPairs(category int) ([]Pair, error) {
	if category < 1 || category > len(Categories) {
		return nil, fmt.Errorf("category %d out of range 1..%d", category, len(Categories))
	}
	name := Categories[category-1]
	pairs := make([]Pair, len(Actions))
	for i, action := range Actions {
		pairs[i] = Pair{
			Category: category,
			Index:    i + 1,
			Left:     fmt.Sprintf("%s-low-%s.bvh", action, name),
			Right:    fmt.Sprintf("%s-high-%s.bvh", action, name),
		}
	}
	return pairs, nil
}

// AllPairs returns every pair, category by category.
func AllPairs() []Pair {
	all := make([]Pair, 0, len(Categories)*len(Actions))
	for c := range Categories {
		pairs, _ := CategoryPairs(c + 1)
		all = append(all, pairs...)
	}
	return all
}

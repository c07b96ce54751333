// Package hierarchy holds the task-tree rules: materialized paths, closure
// pairs, cycle and depth checks, sibling placement and progress rollup. It
// does no I/O; the engine feeds it rows and persists what it returns.
package hierarchy

import (
	"math"
	"slices"

	"timeline/core/internal/timeline"
)

// PathFor returns the root-to-node id chain for id placed under parentPath.
// A nil parentPath makes id a root.
func PathFor(parentPath []string, id string) []string {
	out := make([]string, 0, len(parentPath)+1)
	out = append(out, parentPath...)
	return append(out, id)
}

// DepthOf is the 0-based depth encoded by a path.
func DepthOf(path []string) int {
	if len(path) == 0 {
		return 0
	}
	return len(path) - 1
}

// Rebase swaps oldPrefix for newPrefix at the head of path. ok is false when
// path does not start with oldPrefix.
func Rebase(path, oldPrefix, newPrefix []string) ([]string, bool) {
	if len(path) < len(oldPrefix) || !slices.Equal(path[:len(oldPrefix)], oldPrefix) {
		return nil, false
	}
	out := make([]string, 0, len(newPrefix)+len(path)-len(oldPrefix))
	out = append(out, newPrefix...)
	return append(out, path[len(oldPrefix):]...), true
}

// WouldCycle reports whether hanging taskID under a parent whose path is
// parentPath closes a loop. parentPath includes the parent itself.
func WouldCycle(taskID string, parentPath []string) bool {
	return slices.Contains(parentPath, taskID)
}

// CheckDepth validates that a subtree of the given height (0 for a leaf) fits
// under parentPath. A nil parentPath means the subtree root becomes a root.
func CheckDepth(taskID string, parentPath []string, subtreeHeight int) error {
	deepest := len(parentPath) + subtreeHeight
	if deepest >= timeline.MaxTreeLevels {
		return timeline.DepthExceeded(taskID, deepest)
	}
	return nil
}

// ClosurePair is one (ancestor, descendant) edge of the closure index,
// including the reflexive pair at distance 0.
type ClosurePair struct {
	Ancestor   string
	Descendant string
	Distance   int
}

// ClosureFor lists every pair a node with the given path contributes.
func ClosureFor(path []string) []ClosurePair {
	if len(path) == 0 {
		return nil
	}
	self := path[len(path)-1]
	out := make([]ClosurePair, 0, len(path))
	for i, anc := range path {
		out = append(out, ClosurePair{Ancestor: anc, Descendant: self, Distance: len(path) - 1 - i})
	}
	return out
}

// Placement clamps a requested sibling position into [0, count]. A nil
// request appends.
func Placement(requested *int, count int) int {
	if requested == nil || *requested > count {
		return count
	}
	if *requested < 0 {
		return 0
	}
	return *requested
}

// ChildLoader returns the direct children of a task.
type ChildLoader func(parentID string) ([]timeline.Task, error)

// Progress computes the effective progress of t. Manual tasks and leaves
// report their stored value; averaged and weighted tasks roll up their
// children's effective progress.
func Progress(t timeline.Task, load ChildLoader) (int, error) {
	if t.ProgressCalculation == timeline.ProgressManual || t.ProgressCalculation == "" {
		return clamp(t.ProgressPercent), nil
	}
	children, err := load(t.ID)
	if err != nil {
		return 0, err
	}
	if len(children) == 0 {
		return clamp(t.ProgressPercent), nil
	}
	var sum, weights float64
	for _, c := range children {
		p, err := Progress(c, load)
		if err != nil {
			return 0, err
		}
		w := 1.0
		if t.ProgressCalculation == timeline.ProgressWeighted && c.EstimatedMinutes > 0 {
			w = float64(c.EstimatedMinutes)
		}
		sum += float64(p) * w
		weights += w
	}
	return clamp(int(math.Round(sum / weights))), nil
}

func clamp(p int) int {
	return max(0, min(100, p))
}

// Package analytics computes time rollups and the reports built on them.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/models"
)

// ValueMode says what the Tracked and Estimate inputs mean.
type ValueMode int

const (
	// ValuesReported: the API may already have rolled children into the
	// parent's figures.
	ValuesReported ValueMode = iota
	// ValuesDirect: inputs are the task's own effort only.
	ValuesDirect
)

type Basis string

const (
	BasisTotal   Basis = "total"
	BasisDirect  Basis = "direct"
	BasisUnknown Basis = "unknown"
)

type TaskInput struct {
	ID        string
	ParentID  string
	Name      string
	Status    string
	Category  models.StatusCategory
	ListID    string
	ListName  string
	Assignees []string
	Tracked   time.Duration
	Estimate  time.Duration
	Updated   *time.Time
	Due       *time.Time
}

// InputFromDTO builds an input from an API task.
func InputFromDTO(t clickup.TaskDTO) TaskInput {
	in := TaskInput{
		ID:       t.ID.String(),
		ParentID: t.ParentID(),
		Name:     t.Name,
		Status:   t.Status.Status,
		Category: models.CategorizeStatus(t.Status.Status, t.Status.Type),
		ListID:   t.List.ID.String(),
		ListName: t.List.Name,
		Tracked:  t.TimeSpent.Duration(),
		Estimate: t.TimeEstimate.Duration(),
		Updated:  t.DateUpdated.Time(),
		Due:      t.DueDate.Time(),
	}
	for _, a := range t.Assignees {
		in.Assignees = append(in.Assignees, a.Username)
	}
	return in
}

// InputFromModel builds an input from a mirrored task.
func InputFromModel(t models.Task) TaskInput {
	in := TaskInput{
		ID:        t.ID,
		Name:      t.Title,
		Status:    t.Status,
		Category:  t.Category,
		ListID:    t.ListID,
		ListName:  t.ListName,
		Assignees: t.AssigneeNames,
		Tracked:   time.Duration(t.TrackedMinutes) * time.Minute,
		Estimate:  time.Duration(t.EstimateMinutes) * time.Minute,
		Updated:   t.DateUpdated,
		Due:       t.DueDate,
	}
	if t.ParentID != nil {
		in.ParentID = *t.ParentID
	}
	return in
}

type Metrics struct {
	TrackedTotal   time.Duration `json:"tracked_total"`
	TrackedDirect  time.Duration `json:"tracked_direct"`
	EstimateTotal  time.Duration `json:"estimate_total"`
	EstimateDirect time.Duration `json:"estimate_direct"`
	Basis          Basis         `json:"basis"`
}

// Applicable returns tracked and estimate in the task's basis. ok is false
// when the basis is unknown.
func (m Metrics) Applicable() (tracked, estimate time.Duration, ok bool) {
	switch m.Basis {
	case BasisTotal:
		return m.TrackedTotal, m.EstimateTotal, true
	case BasisDirect:
		return m.TrackedDirect, m.EstimateDirect, true
	}
	return 0, 0, false
}

// TaskFetcher loads a single task by id.
type TaskFetcher interface {
	Task(ctx context.Context, id string) (*clickup.TaskDTO, error)
}

type node struct {
	TaskInput
	reported bool
	// external nodes were fetched only to resolve a parent reference
	external bool
}

// Tree holds a set of tasks linked by parent reference. It is not safe
// for concurrent use.
type Tree struct {
	mode       ValueMode
	nodes      map[string]*node
	order      []string
	unresolved map[string]error
	metrics    map[string]Metrics
}

func NewTree(mode ValueMode, tasks []TaskInput) *Tree {
	t := &Tree{
		mode:       mode,
		nodes:      make(map[string]*node, len(tasks)),
		unresolved: make(map[string]error),
	}
	for _, in := range tasks {
		if in.ID == "" {
			continue
		}
		if _, dup := t.nodes[in.ID]; dup {
			continue
		}
		t.nodes[in.ID] = &node{TaskInput: in, reported: mode == ValuesReported}
		t.order = append(t.order, in.ID)
	}
	return t
}

// Len counts in-scope tasks only.
func (t *Tree) Len() int { return len(t.order) }

// Tasks returns the in-scope tasks in input order.
func (t *Tree) Tasks() []TaskInput {
	out := make([]TaskInput, len(t.order))
	for i, id := range t.order {
		out[i] = t.nodes[id].TaskInput
	}
	return out
}

func (t *Tree) Task(id string) (TaskInput, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return TaskInput{}, false
	}
	return n.TaskInput, true
}

// inScope returns a task that belongs to the report, leaving out parents
// loaded only for rollups.
func (t *Tree) inScope(id string) (TaskInput, bool) {
	n, ok := t.nodes[id]
	if !ok || n.external {
		return TaskInput{}, false
	}
	return n.TaskInput, true
}

// Partial reports whether any parent reference could not be resolved.
func (t *Tree) Partial() bool { return len(t.unresolved) > 0 }

// Unresolved returns the parent ids that failed to load.
func (t *Tree) Unresolved() map[string]error {
	out := make(map[string]error, len(t.unresolved))
	for k, v := range t.unresolved {
		out[k] = v
	}
	return out
}

// ResolveParents fetches, by id, every parent that is referenced but not
// present, then their parents in turn, until each chain reaches a root or
// a known task. A failed fetch leaves the children with an unknown basis.
func (t *Tree) ResolveParents(ctx context.Context, f TaskFetcher, workers int) {
	for {
		missing := t.missingParents()
		if len(missing) == 0 {
			return
		}
		found, errs := clickup.FanOut(ctx, missing, workers, workers, func(ctx context.Context, id string) (*clickup.TaskDTO, error) {
			return f.Task(ctx, id)
		})
		for _, id := range missing {
			if err, ok := errs[id]; ok {
				t.unresolved[id] = err
				continue
			}
			dto := found[id]
			if dto == nil {
				t.unresolved[id] = fmt.Errorf("task %s: %w", id, clickup.ErrNotFound)
				continue
			}
			in := InputFromDTO(*dto)
			in.ID = id
			t.AddExternal(in)
		}
	}
}

// AddExternal adds a task that is outside the scope but parents one that
// is. It takes part in rollups and never appears in reports.
func (t *Tree) AddExternal(in TaskInput) {
	if in.ID == "" {
		return
	}
	if _, ok := t.nodes[in.ID]; ok {
		return
	}
	t.nodes[in.ID] = &node{TaskInput: in, reported: true, external: true}
	t.metrics = nil
}

func (t *Tree) missingParents() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, n := range t.nodes {
		pid := n.ParentID
		if pid == "" {
			continue
		}
		if _, ok := t.nodes[pid]; ok {
			continue
		}
		if _, failed := t.unresolved[pid]; failed {
			continue
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		out = append(out, pid)
	}
	sort.Strings(out)
	return out
}

// Metrics returns the rollup for id. ok is false for unknown ids.
func (t *Tree) Metrics(id string) (Metrics, bool) {
	if t.metrics == nil {
		t.compute()
	}
	m, ok := t.metrics[id]
	return m, ok
}

// Children returns the ids whose rollup feeds into id.
func (t *Tree) Children(id string) []string {
	return t.links()[id]
}

// links maps each task to its children. A parent chain that loops back on
// itself is cut at the first task found to close the loop, so every task
// feeds at most one total.
func (t *Tree) links() map[string][]string {
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parent := make(map[string]string, len(ids))
	for _, id := range ids {
		if pid := t.nodes[id].ParentID; pid != "" && pid != id {
			if _, ok := t.nodes[pid]; ok {
				parent[id] = pid
			}
		}
	}

	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(ids))
	for _, start := range ids {
		var path []string
		cur := start
		for cur != "" && state[cur] == unvisited {
			state[cur] = onPath
			path = append(path, cur)
			next := parent[cur]
			if next != "" && state[next] == onPath {
				delete(parent, cur)
				break
			}
			cur = next
		}
		for _, p := range path {
			state[p] = done
		}
	}

	children := make(map[string][]string)
	for _, id := range ids {
		if pid, ok := parent[id]; ok {
			children[pid] = append(children[pid], id)
		}
	}
	return children
}

// compute fills t.metrics with one iterative post-order pass.
func (t *Tree) compute() {
	children := t.links()
	hasParent := make(map[string]bool, len(t.nodes))
	for _, kids := range children {
		for _, k := range kids {
			hasParent[k] = true
		}
	}

	t.metrics = make(map[string]Metrics, len(t.nodes))
	roots := make([]string, 0)
	for id := range t.nodes {
		if !hasParent[id] {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	type frame struct {
		id       string
		expanded bool
	}
	for _, root := range roots {
		stack := []frame{{id: root}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if !top.expanded {
				stack[len(stack)-1].expanded = true
				for _, c := range children[top.id] {
					stack = append(stack, frame{id: c})
				}
				continue
			}
			stack = stack[:len(stack)-1]
			t.metrics[top.id] = t.rollup(top.id, children[top.id])
		}
	}
}

func (t *Tree) rollup(id string, kids []string) Metrics {
	n := t.nodes[id]
	var childTracked, childEstimate time.Duration
	for _, c := range kids {
		cm := t.metrics[c]
		childTracked += cm.TrackedTotal
		childEstimate += cm.EstimateTotal
	}

	m := Metrics{
		TrackedDirect:  direct(n.Tracked, childTracked, n.reported),
		EstimateDirect: direct(n.Estimate, childEstimate, n.reported),
	}
	m.TrackedTotal = m.TrackedDirect + childTracked
	m.EstimateTotal = m.EstimateDirect + childEstimate

	switch {
	case n.ParentID == "":
		m.Basis = BasisTotal
	case t.unresolved[n.ParentID] != nil:
		m.Basis = BasisUnknown
	default:
		m.Basis = BasisDirect
	}
	return m
}

// direct separates a task's own share from a figure the API may have
// rolled up. When the reported value is below the children's sum it
// cannot include them and is taken as-is.
func direct(value, children time.Duration, reported bool) time.Duration {
	if reported && value >= children {
		return value - children
	}
	return value
}

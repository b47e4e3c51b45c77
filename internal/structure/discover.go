package structure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/models"
)

// Fetcher is the part of the API client discovery needs.
type Fetcher interface {
	TeamID(ctx context.Context) (string, error)
	Spaces(ctx context.Context) ([]clickup.SpaceDTO, error)
	Space(ctx context.Context, id string) (*clickup.SpaceDTO, error)
	Folders(ctx context.Context, spaceID string) ([]clickup.FolderDTO, error)
	Folder(ctx context.Context, id string) (*clickup.FolderDTO, error)
	FolderLists(ctx context.Context, folderID string) ([]clickup.ListDTO, error)
	FolderlessLists(ctx context.Context, spaceID string) ([]clickup.ListDTO, error)
	List(ctx context.Context, id string) (*clickup.ListDTO, error)
}

// Scope identifies one discoverable subtree. The workspace scope is
// shallow: it lists spaces without their contents.
type Scope struct {
	Type models.NodeType
	ID   string
}

func WorkspaceScope() Scope       { return Scope{Type: models.NodeWorkspace} }
func SpaceScope(id string) Scope  { return Scope{Type: models.NodeSpace, ID: id} }
func FolderScope(id string) Scope { return Scope{Type: models.NodeFolder, ID: id} }
func ListScope(id string) Scope   { return Scope{Type: models.NodeList, ID: id} }

func (s Scope) Key() string { return string(s.Type) + ":" + s.ID }

// ListLocation is a list with the names of the levels above it.
type ListLocation struct {
	ListID     string
	ListName   string
	FolderID   string
	FolderName string
	SpaceID    string
	SpaceName  string
}

// Snapshot is an immutable discovery result. Refreshes replace it.
type Snapshot struct {
	Scope     Scope
	Root      models.HierarchyNode
	Ancestors []models.HierarchyNode // outermost first, for folder and list scopes
	FetchedAt time.Time
	Stale     bool
}

// Lists walks the snapshot and returns every list with its location.
func (s *Snapshot) Lists() []ListLocation {
	var out []ListLocation
	var base ListLocation
	for _, a := range s.Ancestors {
		switch a.Type {
		case models.NodeSpace:
			base.SpaceID, base.SpaceName = a.ID, a.Name
		case models.NodeFolder:
			base.FolderID, base.FolderName = a.ID, a.Name
		}
	}

	var walk func(n models.HierarchyNode, loc ListLocation)
	walk = func(n models.HierarchyNode, loc ListLocation) {
		switch n.Type {
		case models.NodeSpace:
			loc.SpaceID, loc.SpaceName = n.ID, n.Name
		case models.NodeFolder:
			loc.FolderID, loc.FolderName = n.ID, n.Name
		case models.NodeList:
			loc.ListID, loc.ListName = n.ID, n.Name
			out = append(out, loc)
			return
		}
		for _, c := range n.Children {
			walk(c, loc)
		}
	}
	walk(s.Root, base)
	return out
}

func (s *Snapshot) ListIDs() []string {
	lists := s.Lists()
	ids := make([]string, len(lists))
	for i, l := range lists {
		ids[i] = l.ListID
	}
	return ids
}

// Locations indexes Lists by list id.
func (s *Snapshot) Locations() map[string]ListLocation {
	lists := s.Lists()
	m := make(map[string]ListLocation, len(lists))
	for _, l := range lists {
		m[l.ListID] = l
	}
	return m
}

// Find returns the first node (root included) whose name matches,
// case-insensitively, restricted to types when any are given.
func (s *Snapshot) Find(name string, types ...models.NodeType) (models.HierarchyNode, bool) {
	name = strings.TrimSpace(name)
	var found models.HierarchyNode
	var ok bool

	var walk func(n models.HierarchyNode)
	walk = func(n models.HierarchyNode) {
		if ok {
			return
		}
		if strings.EqualFold(n.Name, name) && typeAllowed(n.Type, types) {
			found, ok = n, true
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(s.Root)
	return found, ok
}

func typeAllowed(t models.NodeType, types []models.NodeType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// Discover fetches the structure under scope straight from the API.
func Discover(ctx context.Context, f Fetcher, scope Scope) (*Snapshot, error) {
	switch scope.Type {
	case models.NodeWorkspace:
		return discoverWorkspace(ctx, f)
	case models.NodeSpace:
		return discoverSpace(ctx, f, scope.ID)
	case models.NodeFolder:
		return discoverFolder(ctx, f, scope.ID)
	case models.NodeList:
		return discoverList(ctx, f, scope.ID)
	}
	return nil, fmt.Errorf("unknown scope type %q", scope.Type)
}

func discoverWorkspace(ctx context.Context, f Fetcher) (*Snapshot, error) {
	teamID, err := f.TeamID(ctx)
	if err != nil {
		return nil, err
	}
	spaces, err := f.Spaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}

	root := models.HierarchyNode{ID: teamID, Type: models.NodeWorkspace}
	for _, s := range spaces {
		root.Children = append(root.Children, models.HierarchyNode{
			ID: s.ID.String(), Name: s.Name, Type: models.NodeSpace, ParentID: teamID,
		})
	}
	return &Snapshot{Scope: WorkspaceScope(), Root: root}, nil
}

// discoverSpace merges foldered and folderless lists. A space without
// folders still reports all of its lists, as folderless children.
func discoverSpace(ctx context.Context, f Fetcher, spaceID string) (*Snapshot, error) {
	space, err := f.Space(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get space %s: %w", spaceID, err)
	}
	folders, err := f.Folders(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders of space %s: %w", spaceID, err)
	}
	folderless, err := f.FolderlessLists(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folderless lists of space %s: %w", spaceID, err)
	}

	root := models.HierarchyNode{ID: spaceID, Name: space.Name, Type: models.NodeSpace}
	for _, fo := range folders {
		root.Children = append(root.Children, folderNode(fo, spaceID))
	}
	for _, l := range folderless {
		root.Children = append(root.Children, listNode(l, spaceID))
	}
	return &Snapshot{Scope: SpaceScope(spaceID), Root: root}, nil
}

func discoverFolder(ctx context.Context, f Fetcher, folderID string) (*Snapshot, error) {
	folder, err := f.Folder(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get folder %s: %w", folderID, err)
	}
	if len(folder.Lists) == 0 {
		lists, err := f.FolderLists(ctx, folderID)
		if err != nil {
			return nil, fmt.Errorf("failed to list lists of folder %s: %w", folderID, err)
		}
		folder.Lists = lists
	}

	snap := &Snapshot{Scope: FolderScope(folderID)}
	var spaceID string
	if folder.Space != nil {
		spaceID = folder.Space.ID.String()
		snap.Ancestors = []models.HierarchyNode{{ID: spaceID, Name: folder.Space.Name, Type: models.NodeSpace}}
	}
	snap.Root = folderNode(*folder, spaceID)
	return snap, nil
}

func discoverList(ctx context.Context, f Fetcher, listID string) (*Snapshot, error) {
	list, err := f.List(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to get list %s: %w", listID, err)
	}

	snap := &Snapshot{Scope: ListScope(listID)}
	var spaceID, parentID string
	if list.Space != nil {
		spaceID = list.Space.ID.String()
		parentID = spaceID
		snap.Ancestors = append(snap.Ancestors, models.HierarchyNode{ID: spaceID, Name: list.Space.Name, Type: models.NodeSpace})
	}
	// folderless lists report a hidden placeholder folder
	if list.Folder != nil && !list.Folder.Hidden && list.Folder.ID != "" {
		parentID = list.Folder.ID.String()
		snap.Ancestors = append(snap.Ancestors, models.HierarchyNode{ID: parentID, Name: list.Folder.Name, Type: models.NodeFolder, ParentID: spaceID})
	}
	snap.Root = listNode(*list, parentID)
	return snap, nil
}

func folderNode(fo clickup.FolderDTO, spaceID string) models.HierarchyNode {
	n := models.HierarchyNode{ID: fo.ID.String(), Name: fo.Name, Type: models.NodeFolder, ParentID: spaceID}
	for _, l := range fo.Lists {
		n.Children = append(n.Children, listNode(l, n.ID))
	}
	return n
}

func listNode(l clickup.ListDTO, parentID string) models.HierarchyNode {
	return models.HierarchyNode{ID: l.ID.String(), Name: l.Name, Type: models.NodeList, ParentID: parentID}
}

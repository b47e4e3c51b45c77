// Package registry keeps the alias table that maps short project names to
// remote spaces, folders and lists, and resolves user-supplied scopes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/structure"
)

var ErrUnknownScope = errors.New("unknown scope")

// Store persists mappings.
type Store interface {
	Save(ctx context.Context, m *models.ProjectMapping) error
	GetAll(ctx context.Context) ([]models.ProjectMapping, error)
	Delete(ctx context.Context, alias string) (bool, error)
}

// Discoverer is the structure cache as seen by the registry.
type Discoverer interface {
	Hierarchy(ctx context.Context, scope structure.Scope) (*structure.Snapshot, error)
	Invalidate(scope structure.Scope)
}

type Registry struct {
	store  Store
	cache  Discoverer
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	byAlias map[string]models.ProjectMapping
}

func New(store Store, cache Discoverer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
		byAlias: make(map[string]models.ProjectMapping),
	}
}

// Load replaces the in-memory table with the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	all, err := r.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}

	byAlias := make(map[string]models.ProjectMapping, len(all))
	for _, m := range all {
		byAlias[normalize(m.Alias)] = m
	}

	r.mu.Lock()
	r.byAlias = byAlias
	r.mu.Unlock()
	return nil
}

func (r *Registry) List() []models.ProjectMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ProjectMapping, 0, len(r.byAlias))
	for _, m := range r.byAlias {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

func (r *Registry) Get(alias string) (models.ProjectMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byAlias[normalize(alias)]
	return m, ok
}

// Map discovers the structure under the remote entity and stores it
// under alias. An empty alias is derived from the entity's name.
func (r *Registry) Map(ctx context.Context, remoteID string, typ models.NodeType, alias string) (*models.ProjectMapping, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return nil, fmt.Errorf("remote id is required")
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid mapping type %q (want space, folder or list)", typ)
	}

	scope := structure.Scope{Type: typ, ID: remoteID}
	r.cache.Invalidate(scope)
	snap, err := r.cache.Hierarchy(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s %s: %w", typ, remoteID, err)
	}

	if alias = normalize(alias); alias == "" {
		alias = Slug(snap.Root.Name)
	}
	if alias == "" {
		return nil, fmt.Errorf("cannot derive an alias for %s %s", typ, remoteID)
	}

	now := r.now().UTC()
	m := models.ProjectMapping{
		Alias:     alias,
		RemoteID:  remoteID,
		Type:      typ,
		Name:      snap.Root.Name,
		Structure: snap.Root,
		LastSync:  &now,
		CreatedAt: now,
	}
	if prev, ok := r.Get(alias); ok {
		m.CreatedAt = prev.CreatedAt
	}
	if err := r.save(ctx, m); err != nil {
		return nil, err
	}
	r.logger.Info("mapping saved", "alias", alias, "type", typ, "remote_id", remoteID)
	return &m, nil
}

func (r *Registry) Unmap(ctx context.Context, alias string) error {
	alias = normalize(alias)
	removed, err := r.store.Delete(ctx, alias)
	if err != nil {
		return fmt.Errorf("failed to delete mapping %s: %w", alias, err)
	}

	r.mu.Lock()
	_, known := r.byAlias[alias]
	delete(r.byAlias, alias)
	r.mu.Unlock()

	if !removed && !known {
		return fmt.Errorf("%w: no mapping named %q", ErrUnknownScope, alias)
	}
	return nil
}

// Refresh rediscovers the structure of one mapping.
func (r *Registry) Refresh(ctx context.Context, alias string) (*models.ProjectMapping, error) {
	m, ok := r.Get(alias)
	if !ok {
		return nil, fmt.Errorf("%w: no mapping named %q", ErrUnknownScope, alias)
	}
	return r.Map(ctx, m.RemoteID, m.Type, m.Alias)
}

// RefreshAll refreshes every mapping, continuing past failures.
func (r *Registry) RefreshAll(ctx context.Context) (int, error) {
	var errs []error
	n := 0
	for _, m := range r.List() {
		if _, err := r.Refresh(ctx, m.Alias); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Alias, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (r *Registry) save(ctx context.Context, m models.ProjectMapping) error {
	if err := r.store.Save(ctx, &m); err != nil {
		return fmt.Errorf("failed to save mapping %s: %w", m.Alias, err)
	}
	r.mu.Lock()
	r.byAlias[m.Alias] = m
	r.mu.Unlock()
	return nil
}

// Resolved is a scope reference turned into something discoverable.
type Resolved struct {
	Scope structure.Scope `json:"scope"`
	Name  string          `json:"name"`
	Alias string          `json:"alias,omitempty"`
	// Via records which rule matched: workspace, alias, mapped, id or name.
	Via string `json:"via"`
}

// Resolve turns ref into a scope. It tries, in order: the whole workspace
// (empty ref), an alias, a folder or list by name inside a mapped
// structure, a remote id, and finally a live search by name through
// spaces, folders and lists.
func (r *Registry) Resolve(ctx context.Context, ref string) (Resolved, error) {
	ref = strings.TrimSpace(ref)
	switch strings.ToLower(ref) {
	case "", "workspace", "all":
		return Resolved{Scope: structure.WorkspaceScope(), Name: "workspace", Via: "workspace"}, nil
	}

	if m, ok := r.Get(ref); ok {
		return Resolved{Scope: structure.Scope{Type: m.Type, ID: m.RemoteID}, Name: m.Name, Alias: m.Alias, Via: "alias"}, nil
	}

	for _, m := range r.List() {
		if n, ok := findNode(m.Structure, ref); ok {
			return Resolved{Scope: structure.Scope{Type: n.Type, ID: n.ID}, Name: n.Name, Alias: m.Alias, Via: "mapped"}, nil
		}
	}

	if looksLikeID(ref) {
		res, err := r.resolveID(ctx, ref)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrUnknownScope) {
			return Resolved{}, err
		}
	}

	return r.resolveName(ctx, ref)
}

func (r *Registry) resolveID(ctx context.Context, id string) (Resolved, error) {
	for _, typ := range []models.NodeType{models.NodeList, models.NodeFolder, models.NodeSpace} {
		snap, err := r.cache.Hierarchy(ctx, structure.Scope{Type: typ, ID: id})
		if err != nil {
			var apiErr *clickup.APIError
			if errors.As(err, &apiErr) {
				continue
			}
			return Resolved{}, err
		}
		return Resolved{Scope: snap.Scope, Name: snap.Root.Name, Via: "id"}, nil
	}
	return Resolved{}, fmt.Errorf("%w: no space, folder or list with id %s", ErrUnknownScope, id)
}

func (r *Registry) resolveName(ctx context.Context, name string) (Resolved, error) {
	ws, err := r.cache.Hierarchy(ctx, structure.WorkspaceScope())
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to list spaces: %w", err)
	}
	if n, ok := ws.Find(name, models.NodeSpace); ok {
		return Resolved{Scope: structure.SpaceScope(n.ID), Name: n.Name, Via: "name"}, nil
	}

	for _, types := range [][]models.NodeType{{models.NodeFolder}, {models.NodeList}} {
		for _, sp := range ws.Root.Children {
			snap, err := r.cache.Hierarchy(ctx, structure.SpaceScope(sp.ID))
			if err != nil {
				r.logger.Warn("skipping space during name search", "space_id", sp.ID, "error", err)
				continue
			}
			if n, ok := snap.Find(name, types...); ok {
				return Resolved{Scope: structure.Scope{Type: n.Type, ID: n.ID}, Name: n.Name, Via: "name"}, nil
			}
		}
	}
	return Resolved{}, fmt.Errorf("%w: %q matches no alias, id or name", ErrUnknownScope, name)
}

func findNode(root models.HierarchyNode, name string) (models.HierarchyNode, bool) {
	if strings.EqualFold(root.Name, name) {
		return root, true
	}
	for _, c := range root.Children {
		if n, ok := findNode(c, name); ok {
			return n, true
		}
	}
	return models.HierarchyNode{}, false
}

var (
	idPattern   = regexp.MustCompile(`^[0-9a-zA-Z_-]+$`)
	slugPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

func looksLikeID(s string) bool {
	return idPattern.MatchString(s) && strings.ContainsAny(s, "0123456789")
}

// Slug lowercases name and joins its words with dashes.
func Slug(name string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func normalize(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

type mappingDoc struct {
	Alias     string               `yaml:"alias"`
	RemoteID  string               `yaml:"remote_id"`
	Type      models.NodeType      `yaml:"type"`
	Name      string               `yaml:"name"`
	Structure models.HierarchyNode `yaml:"structure"`
	LastSync  *time.Time           `yaml:"last_sync,omitempty"`
}

type exportDoc struct {
	Mappings []mappingDoc `yaml:"mappings"`
}

// Export writes every mapping as YAML.
func (r *Registry) Export(w io.Writer) error {
	var doc exportDoc
	for _, m := range r.List() {
		doc.Mappings = append(doc.Mappings, mappingDoc{
			Alias: m.Alias, RemoteID: m.RemoteID, Type: m.Type, Name: m.Name,
			Structure: m.Structure, LastSync: m.LastSync,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Import stores every mapping in a document written by Export. Existing
// aliases are overwritten; the structures are taken as-is.
func (r *Registry) Import(ctx context.Context, rd io.Reader) (int, error) {
	var doc exportDoc
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil {
		return 0, fmt.Errorf("invalid mapping document: %w", err)
	}

	n := 0
	for i, d := range doc.Mappings {
		alias := normalize(d.Alias)
		if alias == "" || d.RemoteID == "" || !d.Type.Valid() {
			return n, fmt.Errorf("mapping %d: alias, remote_id and a space, folder or list type are required", i+1)
		}
		m := models.ProjectMapping{
			Alias: alias, RemoteID: d.RemoteID, Type: d.Type, Name: d.Name,
			Structure: d.Structure, LastSync: d.LastSync, CreatedAt: r.now().UTC(),
		}
		if err := r.save(ctx, m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

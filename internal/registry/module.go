package registry

import (
	"fmt"
	"reflect"
	"slices"

	"go.uber.org/zap"

	"modnet/internal/identity"
	"modnet/internal/protocol"
)

// Module is a unit of message-handling code. Modules declare their groups
// and message types once when added, and hand over their handlers on every
// rebuild.
type Module interface {
	Name() string
	// Dependencies lists module names this module builds on. Only the home
	// module and modules depending on it take part in a rebuild.
	Dependencies() []string
	Declare(d *Declarer) error
	Handlers() []Candidate
}

type moduleEntry struct {
	id     protocol.ModuleID
	module Module
}

// Declarer is handed to Module.Declare.
type Declarer struct {
	r      *Registry
	module protocol.ModuleID
	name   string
}

func (d *Declarer) Module() protocol.ModuleID { return d.module }
func (d *Declarer) Name() string              { return d.name }

// DeclareGroup allocates the group named by G, or returns the one it has.
func DeclareGroup[G any](d *Declarer) (protocol.GroupID, error) {
	return d.r.ids.DeclareGroup(typeKey(reflect.TypeFor[G]()))
}

// DeclareMessage assigns P an identity in the home module's message space,
// so peers address it by message ID alone.
func DeclareMessage[P any](d *Declarer, group protocol.GroupID, dir identity.Direction) (protocol.Identity, error) {
	return d.r.ids.DeclareMessage(typeKey(reflect.TypeFor[P]()), 0, group, dir)
}

// DeclareScoped assigns P an identity scoped to the declaring module. Such
// messages travel with the module ID in their header.
func DeclareScoped[P any](d *Declarer, group protocol.GroupID, dir identity.Direction) (protocol.Identity, error) {
	return d.r.ids.DeclareMessage(typeKey(reflect.TypeFor[P]()), d.module, group, dir)
}

// AddModule assigns m a module ID and runs its declaration phase. Adding a
// module to an initialized registry invalidates it.
func (r *Registry) AddModule(m Module) (protocol.ModuleID, error) {
	r.modMu.Lock()
	defer r.modMu.Unlock()

	name := m.Name()
	if _, ok := r.byName[name]; ok {
		return 0, fmt.Errorf("%w: %s", protocol.ErrDuplicateModule, name)
	}
	id, err := r.space.NextModuleID()
	if err != nil {
		return 0, fmt.Errorf("add module %s: %w", name, err)
	}
	if err := m.Declare(&Declarer{r: r, module: id, name: name}); err != nil {
		return 0, fmt.Errorf("declare module %s: %w", name, err)
	}

	e := &moduleEntry{id: id, module: m}
	r.byName[name] = e
	r.modules = append(r.modules, e)
	r.log.Info("module added",
		zap.String("module", name),
		zap.Uint16("module_id", uint16(id)),
		zap.Strings("deps", m.Dependencies()),
	)

	if r.initialized.Load() {
		r.Invalidate()
	}
	return id, nil
}

// ModuleID returns the ID assigned to the named module.
func (r *Registry) ModuleID(name string) (protocol.ModuleID, bool) {
	r.modMu.Lock()
	defer r.modMu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return e.id, true
}

func (r *Registry) ModuleNames() []string {
	r.modMu.Lock()
	defer r.modMu.Unlock()
	names := make([]string, 0, len(r.modules))
	for _, e := range r.modules {
		names = append(names, e.module.Name())
	}
	return names
}

// scanSet returns the home module followed by every module that depends on
// it, in the order they were added.
func (r *Registry) scanSet(home string) ([]*moduleEntry, error) {
	r.modMu.Lock()
	defer r.modMu.Unlock()
	root, ok := r.byName[home]
	if !ok {
		return nil, fmt.Errorf("%w: home module %q is not registered", protocol.ErrDiscovery, home)
	}
	out := []*moduleEntry{root}
	for _, e := range r.modules {
		if e == root {
			continue
		}
		if slices.Contains(e.module.Dependencies(), home) {
			out = append(out, e)
			continue
		}
		r.log.Debug("module skipped by rebuild",
			zap.String("module", e.module.Name()),
			zap.String("home", home),
		)
	}
	return out, nil
}

// GroupFor returns the group declared by G.
func GroupFor[G any](r *Registry) (protocol.GroupID, bool) {
	return r.ids.Group(typeKey(reflect.TypeFor[G]()))
}

// IdentityOf returns the identity declared for P.
func IdentityOf[P any](r *Registry) (protocol.Identity, bool) {
	return r.ids.Message(typeKey(reflect.TypeFor[P]()))
}

// EntryOf returns the identity entry declared for v's type.
func (r *Registry) EntryOf(v any) (identity.Entry, bool) {
	return r.ids.Entry(typeKey(reflect.TypeOf(v)))
}

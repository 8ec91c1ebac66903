// Package registry is the context object tying identities, modules and
// handler tables together. One Registry is built at startup and passed to
// everything that dispatches.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"modnet/internal/common/logging"
	"modnet/internal/groupindex"
	"modnet/internal/handler"
	"modnet/internal/identity"
	"modnet/internal/metrics"
	"modnet/internal/protocol"
)

const DefaultHomeModule = "netcore"

// Settings are the storage choices. They are frozen by the first Initialize.
type Settings struct {
	IndexerMode groupindex.Mode
	TableMode   handler.Mode
	RegionSize  int
	HomeModule  string
}

func DefaultSettings() Settings {
	return Settings{
		IndexerMode: groupindex.ModeCPU,
		TableMode:   handler.ModeRegion,
		RegionSize:  handler.DefaultRegionSize,
		HomeModule:  DefaultHomeModule,
	}
}

type groupTables struct {
	client handler.Table
	server handler.Table
}

type Registry struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	space *identity.Space
	ids   *identity.Table

	modMu   sync.Mutex
	modules []*moduleEntry
	byName  map[string]*moduleEntry

	// mu serializes initialization and rebuilds against lookups.
	mu       sync.RWMutex
	settings Settings
	lastErr  error

	// tmu guards growth of tables. It is never held while taking another
	// lock, so group listeners may grab it from inside identity calls.
	tmu    sync.Mutex
	tables atomic.Pointer[[]groupTables]

	initialized atomic.Bool
	valid       atomic.Bool
	generation  atomic.Uint64
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithSettings(s Settings) Option {
	return func(r *Registry) { r.settings = s }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		log:      zap.NewNop(),
		settings: DefaultSettings(),
		byName:   make(map[string]*moduleEntry),
	}
	for _, o := range opts {
		o(r)
	}
	r.space = identity.NewSpace(r.settings.IndexerMode)
	r.ids = identity.NewTable(r.space)
	r.space.OnGroup(r.onGroup)
	return r
}

func (r *Registry) Identities() *identity.Table { return r.ids }
func (r *Registry) Space() *identity.Space      { return r.space }

func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

func (r *Registry) checkMutable(what string) error {
	if r.initialized.Load() {
		return fmt.Errorf("%w: %s cannot change after initialization", protocol.ErrInvalidState, what)
	}
	return nil
}

// SetIndexerMode also holds the module lock so no declaration can mark a
// lane on the indexer being replaced.
func (r *Registry) SetIndexerMode(mode groupindex.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modMu.Lock()
	defer r.modMu.Unlock()
	if err := r.checkMutable("indexer mode"); err != nil {
		return err
	}
	r.space.SetIndexerMode(mode)
	r.settings.IndexerMode = mode
	return nil
}

func (r *Registry) SetTableMode(mode handler.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkMutable("table mode"); err != nil {
		return err
	}
	r.settings.TableMode = mode
	return nil
}

func (r *Registry) SetRegionSize(size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkMutable("region size"); err != nil {
		return err
	}
	if _, err := handler.NewRegionTable(size); err != nil {
		return err
	}
	r.settings.RegionSize = size
	return nil
}

func (r *Registry) SetHomeModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkMutable("home module"); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty home module", protocol.ErrInvalidValue)
	}
	r.settings.HomeModule = name
	return nil
}

func (r *Registry) Initialized() bool { return r.initialized.Load() }
func (r *Registry) Valid() bool       { return r.valid.Load() }

// Generation counts completed rebuilds.
func (r *Registry) Generation() uint64 { return r.generation.Load() }

// LastError is the error of the most recent rebuild, nil when it succeeded.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Initialize allocates the per-group tables on first use and rebuilds them
// while the registry is invalid. Both steps are double checked so concurrent
// callers block on the lock instead of racing. A failed rebuild still marks
// the registry valid; its error is returned and kept in LastError.
func (r *Registry) Initialize() error {
	if !r.initialized.Load() {
		r.mu.Lock()
		if !r.initialized.Load() {
			if err := r.allocate(); err != nil {
				r.mu.Unlock()
				return err
			}
			r.initialized.Store(true)
		}
		r.mu.Unlock()
	}
	if !r.valid.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.valid.Load() {
			r.lastErr = r.rebuild()
			r.valid.Store(true)
			r.generation.Add(1)
		}
		return r.lastErr
	}
	return nil
}

// Invalidate forces the next Initialize or lookup to rebuild. Pair it with
// Initialize (or use Reload) to bound the invalid window.
func (r *Registry) Invalidate() {
	r.valid.Store(false)
}

func (r *Registry) Reload() error {
	r.Invalidate()
	return r.Initialize()
}

func (r *Registry) allocate() error {
	if _, err := handler.New(r.settings.TableMode, r.settings.RegionSize); err != nil {
		return err
	}
	r.growTo(r.space.GroupCount())
	r.log.Info("registry initialized",
		zap.String("indexer_mode", r.settings.IndexerMode.String()),
		zap.String("table_mode", r.settings.TableMode.String()),
		zap.Int("region_size", r.settings.RegionSize),
		zap.Int("groups", r.space.GroupCount()),
	)
	return nil
}

func (r *Registry) newTable() handler.Table {
	t, err := handler.New(r.settings.TableMode, r.settings.RegionSize)
	if err != nil {
		// allocate validated the settings and they are frozen since.
		panic(err)
	}
	return t
}

// growTo makes sure tables exist for n groups. Published slices are never
// written in place.
func (r *Registry) growTo(n int) {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	var cur []groupTables
	if p := r.tables.Load(); p != nil {
		cur = *p
	}
	if len(cur) >= n {
		return
	}
	next := make([]groupTables, n)
	copy(next, cur)
	for i := len(cur); i < n; i++ {
		next[i] = groupTables{client: r.newTable(), server: r.newTable()}
	}
	r.tables.Store(&next)
}

func (r *Registry) onGroup(g protocol.GroupID) {
	if r.initialized.Load() {
		r.growTo(int(g) + 1)
	}
}

func (r *Registry) group(g protocol.GroupID) (groupTables, error) {
	p := r.tables.Load()
	if p == nil || int(g) >= len(*p) {
		return groupTables{}, fmt.Errorf("%w: %d", protocol.ErrUnknownGroup, g)
	}
	return (*p)[g], nil
}

// rebuild runs under the exclusive lock.
func (r *Registry) rebuild() (err error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveRebuild(start, err)
		}
	}()

	r.growTo(r.space.GroupCount())
	for _, gt := range *r.tables.Load() {
		gt.client.Clear()
		gt.server.Clear()
	}

	home := r.settings.HomeModule
	mods, err := r.scanSet(home)
	if err != nil {
		r.log.Error("rebuild failed", zap.Error(err))
		return err
	}

	stored := 0
	for _, e := range mods {
		for i, c := range e.module.Handlers() {
			if err := r.register(e, c); err != nil {
				name := c.Name
				if name == "" {
					name = fmt.Sprintf("#%d", i)
				}
				err = fmt.Errorf("%w: module %s handler %s: %w", protocol.ErrDiscovery, e.module.Name(), name, err)
				r.log.Error("rebuild aborted",
					zap.String("module", e.module.Name()),
					zap.String("handler", name),
					zap.Int("stored", stored),
					zap.Error(err),
				)
				return err
			}
			stored++
		}
	}
	r.log.Info("registry rebuilt",
		zap.String("home", home),
		zap.Int("modules", len(mods)),
		zap.Int("handlers", stored),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (r *Registry) register(e *moduleEntry, c Candidate) error {
	if err := c.Tag.Err(); err != nil {
		return err
	}
	d, err := handler.Classify(c.Fn, c.Opts...)
	if err != nil {
		return err
	}
	id, err := r.resolve(c.Tag, d)
	if err != nil {
		return err
	}
	gt, err := r.group(id.Group)
	if err != nil {
		return err
	}
	tbl := gt.client
	if d.Kind.ServerSide() {
		tbl = gt.server
	}
	if err := tbl.Set(id.Module, id.Message, d); err != nil {
		return err
	}
	r.log.Debug("handler registered",
		zap.String("module", e.module.Name()),
		zap.String("handler", d.Name),
		zap.String("kind", d.Kind.String()),
		zap.Uint16("module_id", uint16(id.Module)),
		zap.Uint8("group_id", uint8(id.Group)),
		zap.Uint16("msg_id", uint16(id.Message)),
	)
	return nil
}

// resolve turns a tag plus the descriptor's payload type into an identity.
// Explicit IDs win; otherwise the payload type's identity fills the gaps.
func (r *Registry) resolve(t Tag, d handler.Descriptor) (protocol.Identity, error) {
	ptype := t.payloadType
	if dt := typeKey(d.PayloadType); dt != nil {
		if ptype != nil && ptype != dt {
			return protocol.Identity{}, fmt.Errorf("%w: tag names %s, handler takes %s",
				protocol.ErrConflictingTag, identity.TypeName(ptype), identity.TypeName(dt))
		}
		if ptype == nil && t.message == nil {
			ptype = dt
		}
	}

	var entry identity.Entry
	haveEntry := false
	if ptype != nil {
		entry, haveEntry = r.ids.Entry(ptype)
		if !haveEntry && t.message == nil {
			return protocol.Identity{}, fmt.Errorf("%w: %s", protocol.ErrNoIdentity, identity.TypeName(ptype))
		}
	}

	var id protocol.Identity
	switch {
	case t.message != nil:
		id.Message = *t.message
	case haveEntry:
		id.Message = entry.Identity.Message
	default:
		return protocol.Identity{}, protocol.ErrMissingIdentity
	}
	if id.Message < protocol.SystemReserved {
		return protocol.Identity{}, fmt.Errorf("%w: message id %d is reserved", protocol.ErrInvalidValue, id.Message)
	}

	switch {
	case t.group != nil:
		id.Group = *t.group
	case t.groupType != nil:
		g, ok := r.ids.Group(t.groupType)
		if !ok {
			return protocol.Identity{}, fmt.Errorf("%w: %s", protocol.ErrUnknownGroupRef, identity.TypeName(t.groupType))
		}
		id.Group = g
	case haveEntry:
		id.Group = entry.Identity.Group
	}
	if haveEntry && id.Group != entry.Identity.Group {
		return protocol.Identity{}, fmt.Errorf("%w: %s belongs to group %d, tag says %d",
			protocol.ErrConflictingTag, entry.Name, entry.Identity.Group, id.Group)
	}

	switch {
	case t.module != nil:
		id.Module = *t.module
	case haveEntry:
		id.Module = entry.Identity.Module
	}
	if haveEntry && id.Module != entry.Identity.Module {
		return protocol.Identity{}, fmt.Errorf("%w: %s belongs to module %d, tag says %d",
			protocol.ErrConflictingTag, entry.Name, entry.Identity.Module, id.Module)
	}

	if haveEntry {
		want := identity.ToClient
		if d.Kind.ServerSide() {
			want = identity.ToServer
		}
		if entry.Direction&want == 0 {
			return protocol.Identity{}, fmt.Errorf("%w: %s is declared %s, handler is %s",
				protocol.ErrSideMismatch, entry.Name, entry.Direction, d.Kind)
		}
	}
	return id, nil
}

func (r *Registry) ensure() {
	if r.initialized.Load() && r.valid.Load() {
		return
	}
	if err := r.Initialize(); err != nil && !errors.Is(err, protocol.ErrDiscovery) {
		r.log.Error("registry initialize failed", zap.Error(err))
	}
}

func (r *Registry) lookup(server bool, g protocol.GroupID, mod protocol.ModuleID, msg protocol.MessageID) (handler.Descriptor, error) {
	r.ensure()
	r.mu.RLock()
	defer r.mu.RUnlock()
	gt, err := r.group(g)
	if err != nil {
		return handler.Descriptor{}, err
	}
	if server {
		return gt.server.GetModule(mod, msg)
	}
	return gt.client.GetModule(mod, msg)
}

// Client returns a snapshot of the client-side descriptor for msg.
func (r *Registry) Client(g protocol.GroupID, mod protocol.ModuleID, msg protocol.MessageID) (handler.Descriptor, error) {
	return r.lookup(false, g, mod, msg)
}

// Server returns a snapshot of the server-side descriptor for a
// module-scoped message.
func (r *Registry) Server(g protocol.GroupID, mod protocol.ModuleID, msg protocol.MessageID) (handler.Descriptor, error) {
	return r.lookup(true, g, mod, msg)
}

// ServerGlobal looks msg up in the home message space.
func (r *Registry) ServerGlobal(g protocol.GroupID, msg protocol.MessageID) (handler.Descriptor, error) {
	return r.lookup(true, g, 0, msg)
}

// ClientTable returns a copy of a group's client table taken under the read
// lock, so a concurrent rebuild is never observed half done.
func (r *Registry) ClientTable(g protocol.GroupID) (handler.Table, error) {
	return r.snapshotTable(false, g)
}

func (r *Registry) ServerTable(g protocol.GroupID) (handler.Table, error) {
	return r.snapshotTable(true, g)
}

func (r *Registry) snapshotTable(server bool, g protocol.GroupID) (handler.Table, error) {
	r.ensure()
	r.mu.RLock()
	defer r.mu.RUnlock()
	gt, err := r.group(g)
	if err != nil {
		return nil, err
	}
	src := gt.client
	if server {
		src = gt.server
	}
	out := handler.NewMapTable()
	var setErr error
	src.Range(func(mod protocol.ModuleID, msg protocol.MessageID, d handler.Descriptor) bool {
		setErr = out.Set(mod, msg, d)
		return setErr == nil
	})
	return out, setErr
}

// Manifest lists every declared identity in a stable order.
func (r *Registry) Manifest() []identity.Entry { return r.ids.Manifest() }

func (r *Registry) ManifestHash() uint64 { return identity.Hash(r.ids.Manifest()) }

package channel

import (
	"errors"
	"fmt"
	"os"
	"plugin"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/message"
	"github.com/artpar/conduit/core/scheme"
	"github.com/artpar/conduit/core/stat"
)

// schemeCacheSize bounds the per-context scheme cache.
const schemeCacheSize = 128

// moduleSymbol is the default symbol a loadable module exports.
const moduleSymbol = "ChannelModule"

// aliasHopLimit bounds alias resolution. Aliases are acyclic by
// construction; the guard turns an accidental cycle into ErrInvalid
// instead of an endless loop.
const aliasHopLimit = 64

// registryEntry is a tagged variant: exactly one of impl and alias is set.
type registryEntry struct {
	impl  *Impl
	alias *config.URL
}

// Context is the registry of channel implementations and aliases, the
// module loader, the scheme cache and the name index of live channels.
//
// Registry and name index mutations are not synchronized: registrations
// happen at startup and channels are created and freed on their owning
// loop's goroutine. The scheme cache is safe for concurrent use.
type Context struct {
	id  string
	log zerolog.Logger

	registry map[string]registryEntry
	channels map[string]*Channel
	modules  map[string]*Module

	cfg      *config.Config
	defaults *config.Config
	stats    *stat.List

	schemes     *lru.Cache[string, *scheme.Scheme]
	schemeGroup singleflight.Group

	refs atomic.Int64
}

// NewContext creates a context with an empty registry. defaults may be
// nil; the tree is kept as given and returned by ConfigDefaults. Channel
// instantiation does not read it.
func NewContext(defaults *config.Config, log zerolog.Logger) *Context {
	if defaults == nil {
		defaults = config.New()
	}
	id := uuid.NewString()[:8]
	schemes, _ := lru.New[string, *scheme.Scheme](schemeCacheSize)
	ctx := &Context{
		id:       id,
		log:      log.With().Str("context", id).Logger(),
		registry: make(map[string]registryEntry),
		channels: make(map[string]*Channel),
		modules:  make(map[string]*Module),
		cfg:      config.New(),
		defaults: defaults,
		stats:    stat.NewList(),
		schemes:  schemes,
	}
	ctx.refs.Store(1)
	return ctx
}

var (
	defaultCtx  *Context
	defaultOnce sync.Once
)

// Default returns the process-wide default context. It is created lazily
// and lives until process exit; releasing it is a no-op.
func Default() *Context {
	defaultOnce.Do(func() {
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		defaultCtx = NewContext(nil, log)
	})
	return defaultCtx
}

// Logger returns the context logger.
func (ctx *Context) Logger() zerolog.Logger { return ctx.log }

// Config returns the live state tree: one subtree per named channel.
func (ctx *Context) Config() *config.Config { return ctx.cfg }

// ConfigDefaults returns the defaults tree the context was created with.
func (ctx *Context) ConfigDefaults() *config.Config { return ctx.defaults }

// Stats returns the context's stat list.
func (ctx *Context) Stats() *stat.List { return ctx.stats }

// Ref takes a reference on the context.
func (ctx *Context) Ref() *Context {
	ctx.refs.Add(1)
	return ctx
}

// Unref drops a reference. The default context is never torn down.
func (ctx *Context) Unref() {
	ctx.unref()
}

func (ctx *Context) unref() {
	if ctx.refs.Add(-1) > 0 || ctx == defaultCtx {
		return
	}
	for path, mod := range ctx.modules {
		if mod.Free != nil {
			if err := mod.Free(ctx); err != nil {
				ctx.log.Error().Err(err).Str("module", path).Msg("module free failed")
			}
		}
	}
	ctx.modules = nil
}

// Register inserts an implementation under name, or under its protocol
// name when name is empty. Duplicate names fail with ErrExists.
func (ctx *Context) Register(impl *Impl, name string) error {
	if impl == nil || impl.New == nil {
		return fmt.Errorf("%w: nil impl", ErrInvalid)
	}
	if name == "" {
		name = impl.Protocol
	}
	if _, ok := ctx.registry[name]; ok {
		return fmt.Errorf("%w: protocol %q", ErrExists, name)
	}
	ctx.log.Debug().Str("impl", impl.Protocol).Str("name", name).Msg("register channel impl")
	ctx.registry[name] = registryEntry{impl: impl}
	return nil
}

// Unregister removes an implementation registration. The entry must be
// an impl (not an alias) and must point at exactly this impl.
func (ctx *Context) Unregister(impl *Impl, name string) error {
	if impl == nil {
		return fmt.Errorf("%w: nil impl", ErrInvalid)
	}
	if name == "" {
		name = impl.Protocol
	}
	e, ok := ctx.registry[name]
	if !ok {
		return fmt.Errorf("%w: protocol %q", ErrNotFound, name)
	}
	if e.impl == nil {
		return fmt.Errorf("%w: %q is an alias, not an impl", ErrInvalid, name)
	}
	if e.impl != impl {
		return fmt.Errorf("%w: %q registered with a different impl", ErrInvalid, name)
	}
	delete(ctx.registry, name)
	return nil
}

// RegisterAlias stores a URL template under name. The template must not
// carry "name" or "tll.host", and its protocol must resolve in the
// current registry.
func (ctx *Context) RegisterAlias(name, url string) error {
	if name == "" {
		return fmt.Errorf("%w: empty alias name", ErrInvalid)
	}
	cfg, err := config.ParseURL(url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if cfg.Host() != "" {
		return fmt.Errorf("%w: alias %q has non-empty host", ErrInvalid, name)
	}
	for _, k := range []string{config.KeyName, config.KeyHost} {
		if v, ok := cfg.Get(k); ok && v != "" {
			return fmt.Errorf("%w: alias %q has non-empty field %q", ErrInvalid, name, k)
		}
	}
	if _, err := ctx.ResolveImpl(cfg.Copy()); err != nil {
		return fmt.Errorf("%w: alias %q: can not resolve protocol %q", ErrNotFound, name, cfg.Proto())
	}
	if _, ok := ctx.registry[name]; ok {
		return fmt.Errorf("%w: alias %q", ErrExists, name)
	}
	ctx.log.Debug().Str("alias", name).Str("proto", cfg.Proto()).Msg("register alias")
	ctx.registry[name] = registryEntry{alias: cfg}
	return nil
}

// UnregisterAlias removes an alias registration. It refuses to touch
// impl entries.
func (ctx *Context) UnregisterAlias(name, url string) error {
	if name == "" {
		return fmt.Errorf("%w: empty alias name", ErrInvalid)
	}
	cfg, err := config.ParseURL(url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	e, ok := ctx.registry[name]
	if !ok {
		return fmt.Errorf("%w: alias %q", ErrNotFound, name)
	}
	if e.alias == nil {
		return fmt.Errorf("%w: %q is an impl, not an alias", ErrInvalid, name)
	}
	if e.alias.Proto() != cfg.Proto() {
		return fmt.Errorf("%w: alias %q protocol mismatch", ErrInvalid, name)
	}
	delete(ctx.registry, name)
	return nil
}

// Protocols returns every registered protocol and alias name.
func (ctx *Context) Protocols() []string {
	out := make([]string, 0, len(ctx.registry))
	for name := range ctx.registry {
		out = append(out, name)
	}
	return out
}

// lookupEntry finds a registry entry for a protocol: an exact match
// first, then the "prefix+" entry when the protocol contains '+'.
func (ctx *Context) lookupEntry(proto string) (registryEntry, bool) {
	if e, ok := ctx.registry[proto]; ok {
		return e, true
	}
	sep := strings.IndexByte(proto, '+')
	if sep < 0 {
		return registryEntry{}, false
	}
	e, ok := ctx.registry[proto[:sep+1]]
	return e, ok
}

// Lookup resolves a protocol name to an implementation without touching
// any URL. Alias entries return nil.
func (ctx *Context) Lookup(proto string) *Impl {
	e, ok := ctx.lookupEntry(proto)
	if !ok {
		return nil
	}
	return e.impl
}

// ResolveImpl resolves url's protocol through alias chains to an
// implementation, merging alias parameters into url along the way.
// The url's protocol is rewritten to the final resolved protocol.
func (ctx *Context) ResolveImpl(url *config.URL) (*Impl, error) {
	proto := url.Proto()
	for hop := 0; hop < aliasHopLimit; hop++ {
		e, ok := ctx.lookupEntry(proto)
		if !ok {
			return nil, fmt.Errorf("%w: channel impl %q", ErrNotFound, proto)
		}
		if e.impl != nil {
			url.SetProto(proto)
			return e.impl, nil
		}

		alias := e.alias
		aproto := alias.Proto()
		ctx.log.Debug().Str("proto", proto).Str("alias", aproto).Msg("resolve through alias")

		// A prefix alias keeps the inner part of the requested protocol.
		sep := strings.IndexByte(proto, '+')
		if sep >= 0 && strings.HasSuffix(aproto, "+") {
			proto = aproto + proto[sep+1:]
		} else {
			proto = aproto
		}

		for _, k := range alias.Keys() {
			if k == config.KeyProto || k == config.KeyHost {
				continue
			}
			if url.Has(k) {
				return nil, fmt.Errorf("%w: duplicate field %q in alias %q and url", ErrInvalid, k, aproto)
			}
			v, _ := alias.Get(k)
			url.Set(k, v)
		}
		url.SetProto(proto)
	}
	return nil, fmt.Errorf("%w: alias resolution exceeded %d hops", ErrInvalid, aliasHopLimit)
}

// Get returns the live channel registered under name, or nil.
func (ctx *Context) Get(name string) *Channel {
	return ctx.channels[name]
}

// NewChannel parses a URL and instantiates a channel. master may be nil;
// a "master=<name>" URL parameter resolves through the name index.
func (ctx *Context) NewChannel(url string, master *Channel) (*Channel, error) {
	u, err := config.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return ctx.NewChannelURL(u, master, nil)
}

// NewChannelURL instantiates a channel from a parsed URL. impl overrides
// protocol resolution when non-nil.
func (ctx *Context) NewChannelURL(url *config.URL, master *Channel, impl *Impl) (*Channel, error) {
	url = url.Copy()
	if impl == nil {
		var err error
		impl, err = ctx.ResolveImpl(url)
		if err != nil {
			return nil, err
		}
	}
	return ctx.instantiate(url, master, impl)
}

func (ctx *Context) instantiate(url *config.URL, master *Channel, impl *Impl) (*Channel, error) {
	internal, err := url.GetBool(config.KeyInternal, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dump, err := url.GetBool(config.KeyDump, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	withStat, err := url.GetBool(config.KeyStat, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if master == nil {
		if mname, ok := url.Get(config.KeyMaster); ok {
			master = ctx.channels[mname]
			if master == nil {
				return nil, fmt.Errorf("%w: master %q", ErrNotFound, mname)
			}
		}
	}

	name, _ := url.Get(config.KeyName)
	seen := make(map[*Impl]bool)
	var c *Channel
	for {
		c = &Channel{impl: impl, ctx: ctx}
		log := ctx.log.With().Str("channel", name).Str("impl", impl.Protocol).Logger()
		c.internal = newInternal(c, name, log)
		c.internal.dump = dump
		c.inst = impl.New()

		ctx.log.Debug().Str("impl", impl.Protocol).Str("url", url.String()).Msg("initialize channel")
		err := c.inst.Init(c, url, master)
		if err == nil {
			break
		}
		if errors.Is(err, ErrAgain) && c.impl != nil && c.impl != impl {
			ctx.log.Info().Str("impl", c.impl.Protocol).Msg("reinitialize channel with different impl")
			if seen[c.impl] {
				return nil, fmt.Errorf("%w: loop in channel initialization", ErrInvalid)
			}
			seen[impl] = true
			impl = c.impl
			continue
		}
		return nil, fmt.Errorf("failed to init channel %s: %w", url.String(), err)
	}

	if internal {
		c.internal.caps |= CapCustom
	}
	c.internal.config.Set("url", url.String())

	if !internal && name != "" {
		if _, ok := ctx.channels[name]; ok {
			c.inst.Free()
			return nil, fmt.Errorf("%w: channel name %q", ErrExists, name)
		}
		ctx.channels[name] = c
		ctx.cfg.SetSub(name, c.internal.config)
	}

	if withStat {
		c.internal.stat = stat.NewBlock(name)
	}
	if c.internal.stat != nil {
		if c.internal.stat.Name() == "" {
			c.internal.stat.SetName(name)
		}
		ctx.stats.Add(c.internal.stat)
	}

	ctx.refs.Add(1)
	return c, nil
}

// SchemeLoad loads a message scheme by URL. "channel://<name>" borrows
// the named channel's DATA scheme; other URLs go through the scheme
// loader, memoized in the context cache when cache is true. Concurrent
// loads of the same URL are coalesced; a losing writer observes the
// winning entry.
func (ctx *Context) SchemeLoad(url string, cache bool) (*scheme.Scheme, error) {
	if rest, ok := strings.CutPrefix(url, "channel://"); ok {
		c := ctx.Get(rest)
		if c == nil {
			return nil, fmt.Errorf("%w: channel %q for scheme %q", ErrNotFound, rest, url)
		}
		s := c.Scheme(message.Data)
		if s == nil {
			return nil, fmt.Errorf("%w: channel %q has no data scheme", ErrNoEntry, rest)
		}
		return s, nil
	}

	if !cache {
		return scheme.Load(url)
	}
	if s, ok := ctx.schemes.Get(url); ok {
		return s, nil
	}
	v, err, _ := ctx.schemeGroup.Do(url, func() (any, error) {
		if s, ok := ctx.schemes.Get(url); ok {
			return s, nil
		}
		s, err := scheme.Load(url)
		if err != nil {
			return nil, err
		}
		ctx.schemes.Add(url, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*scheme.Scheme), nil
}

// LoadModule opens a plug-in shared object and registers every impl its
// descriptor advertises. symbol defaults to "ChannelModule". Loading the
// same path twice is recognized and ignored.
func (ctx *Context) LoadModule(path, symbol string) error {
	if symbol == "" {
		symbol = moduleSymbol
	}
	log := ctx.log.With().Str("module", path).Logger()

	if _, ok := ctx.modules[path]; ok {
		log.Info().Msg("module already loaded")
		return nil
	}

	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("%w: load module %s: %v", ErrInvalid, path, err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return fmt.Errorf("%w: module %s: symbol %q not found", ErrNoEntry, path, symbol)
	}

	var mod *Module
	switch m := sym.(type) {
	case *Module:
		mod = m
	case **Module:
		mod = *m
	default:
		return fmt.Errorf("%w: module %s: symbol %q has unexpected type", ErrInvalid, path, symbol)
	}

	// ModuleGlobal has no Go plugin equivalent; accepted and ignored.
	if mod.Init != nil {
		if err := mod.Init(ctx); err != nil {
			return fmt.Errorf("%w: module %s: init failed: %v", ErrInvalid, path, err)
		}
	}
	for _, impl := range mod.Impls {
		if err := ctx.Register(impl, ""); err != nil {
			log.Error().Err(err).Str("impl", impl.Protocol).Msg("module impl registration failed")
		}
	}
	if len(mod.Impls) == 0 && mod.Init == nil {
		log.Info().Msg("no channels defined in module")
	}
	ctx.modules[path] = mod
	return nil
}

//go:build linux

package wayland

import (
	"fmt"
	"sort"
)

// Display is wl_display.
type Display struct {
	proxy
}

// Sync requests a callback that fires once all prior requests were handled.
func (d *Display) Sync() (*Callback, error) {
	cb := &Callback{}
	e := &encoder{}
	e.Object(d.conn.register(cb, "wl_callback", 1))
	if err := d.send(0, e); err != nil {
		return nil, err
	}
	return cb, nil
}

// GetRegistry creates the registry and starts global announcements.
func (d *Display) GetRegistry() (*Registry, error) {
	r := &Registry{globals: make(map[uint32]Global)}
	e := &encoder{}
	e.Object(d.conn.register(r, "wl_registry", 1))
	if err := d.send(1, e); err != nil {
		return nil, err
	}
	return r, nil
}

func (d *Display) dispatch(opcode uint16, dec *decoder) error {
	switch opcode {
	case 0: // error
		obj := dec.Object()
		code := dec.Uint()
		msg := dec.String()
		if err := dec.Err(); err != nil {
			return err
		}
		return &ProtocolError{Object: obj, Interface: d.conn.interfaceOf(obj), Code: code, Message: msg}
	case 1: // delete_id
		d.conn.deleteID(ObjectID(dec.Uint()))
	}
	return nil
}

// Callback is wl_callback.
type Callback struct {
	proxy
	Done bool
	Data uint32
}

func (c *Callback) dispatch(opcode uint16, dec *decoder) error {
	if opcode == 0 { // done
		c.Data = dec.Uint()
		c.Done = true
		c.destroyed = true
	}
	return nil
}

// Global is one registry announcement.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry is wl_registry.
type Registry struct {
	proxy
	globals map[uint32]Global

	// OnGlobalRemove is called when a global disappears.
	OnGlobalRemove func(g Global)
}

func (r *Registry) dispatch(opcode uint16, dec *decoder) error {
	switch opcode {
	case 0: // global
		g := Global{Name: dec.Uint(), Interface: dec.String(), Version: dec.Uint()}
		if dec.Err() == nil {
			r.globals[g.Name] = g
		}
	case 1: // global_remove
		name := dec.Uint()
		if g, ok := r.globals[name]; ok {
			delete(r.globals, name)
			if r.OnGlobalRemove != nil {
				r.OnGlobalRemove(g)
			}
		}
	}
	return nil
}

// Globals returns the announced globals ordered by name.
func (r *Registry) Globals() []Global {
	out := make([]Global, 0, len(r.globals))
	for _, g := range r.globals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find returns the first global implementing iface.
func (r *Registry) Find(iface string) (Global, bool) {
	for _, g := range r.Globals() {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// FindAll returns every global implementing iface.
func (r *Registry) FindAll(iface string) []Global {
	var out []Global
	for _, g := range r.Globals() {
		if g.Interface == iface {
			out = append(out, g)
		}
	}
	return out
}

// bind binds g at min(g.Version, version).
func (r *Registry) bind(g Global, version uint32, o object) error {
	if version > g.Version {
		version = g.Version
	}
	if version == 0 {
		return fmt.Errorf("wayland: cannot bind %s version 0", g.Interface)
	}
	id := r.conn.register(o, g.Interface, version)
	e := &encoder{}
	e.Uint(g.Name)
	e.String(g.Interface)
	e.Uint(version)
	e.Object(id)
	return r.send(0, e)
}

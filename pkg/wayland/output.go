//go:build linux

package wayland

const outputModeCurrent = 0x1

// BindOutput binds wl_output at up to version 4.
func (r *Registry) BindOutput(g Global) (*Output, error) {
	o := &Output{}
	if err := r.bind(g, 4, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Output is wl_output. Fields are filled as events arrive; Done reports
// that a consistent set was received.
type Output struct {
	proxy
	Name        string
	Description string
	Make        string
	Model       string
	X, Y        int32
	Width       int32 // current mode
	Height      int32
	Refresh     int32 // mHz
	Scale       int32
	Transform   int32
	Done        bool
}

func (o *Output) dispatch(opcode uint16, dec *decoder) error {
	switch opcode {
	case 0: // geometry
		o.X = dec.Int()
		o.Y = dec.Int()
		_ = dec.Int() // physical width
		_ = dec.Int() // physical height
		_ = dec.Int() // subpixel
		o.Make = dec.String()
		o.Model = dec.String()
		o.Transform = dec.Int()
	case 1: // mode
		flags := dec.Uint()
		w, h, refresh := dec.Int(), dec.Int(), dec.Int()
		if flags&outputModeCurrent != 0 {
			o.Width, o.Height, o.Refresh = w, h, refresh
		}
	case 2: // done
		o.Done = true
	case 3: // scale
		o.Scale = dec.Int()
	case 4: // name
		o.Name = dec.String()
	case 5: // description
		o.Description = dec.String()
	}
	return nil
}

// Release destroys the output object (version 3 and later).
func (o *Output) Release() error {
	if o.version < 3 {
		o.destroyed = true
		return nil
	}
	return o.destroy(0)
}

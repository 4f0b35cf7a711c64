package option

import "github.com/distsvc/dsd-core/pkg/wire"

// Builder is the allocating, owned-tier counterpart to Append/Iterate.
// It accumulates options and produces a single padded region slice;
// internally it still goes through the no-allocation Writer, so its
// output is byte-identical to hand-assembling the same options with
// Append.
type Builder struct {
	opts []Option
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends opt to the region under construction and returns the
// Builder for chaining.
func (b *Builder) Add(opt Option) *Builder {
	b.opts = append(b.opts, opt)
	return b
}

// Options returns the options accumulated so far, in insertion order.
func (b *Builder) Options() []Option {
	return b.opts
}

// Build allocates a buffer sized exactly to the accumulated options and
// encodes them into it.
func (b *Builder) Build() ([]byte, error) {
	buf := make([]byte, EncodedLenAll(b.opts))
	w := wire.NewWriter(buf)
	if err := AppendAll(w, b.opts); err != nil {
		return nil, err
	}
	return buf, nil
}

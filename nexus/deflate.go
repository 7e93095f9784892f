package nexus

import "github.com/robert-malhotra/go-nexus/hdf5"

// Deflate describes the compression applied when a field is created.
type Deflate struct {
	// Rate is the zlib level, 0 to 9.
	Rate int
	// Shuffle byte-interleaves elements before compression.
	Shuffle bool
}

// NewDeflate returns a descriptor with rate 0 and no shuffle.
func NewDeflate() *Deflate {
	return &Deflate{}
}

func (d *Deflate) datasetOptions() []hdf5.DatasetOption {
	if d == nil {
		return nil
	}
	opts := []hdf5.DatasetOption{hdf5.WithDeflate(d.Rate)}
	if d.Shuffle {
		opts = append(opts, hdf5.WithShuffle())
	}
	return opts
}

// deflateOf reports the deflate stage of a stored pipeline, or nil.
func deflateOf(filters []hdf5.FilterInfo) *Deflate {
	var d *Deflate
	shuffle := false
	for _, f := range filters {
		switch f.ID {
		case hdf5.FilterDeflate:
			d = &Deflate{}
			if len(f.Params) > 0 {
				d.Rate = int(f.Params[0])
			}
		case hdf5.FilterShuffle:
			shuffle = true
		}
	}
	if d != nil {
		d.Shuffle = shuffle
	}
	return d
}

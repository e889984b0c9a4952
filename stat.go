package bindb

// ExportStat reports how often a store had to resize and remap its files.
type ExportStat struct {
	Remaps      uint64
	Grows       uint64
	Shrinks     uint64
	MappedBytes uint64
}

func (s ExportStat) add(o ExportStat) ExportStat {
	return ExportStat{
		Remaps:      s.Remaps + o.Remaps,
		Grows:       s.Grows + o.Grows,
		Shrinks:     s.Shrinks + o.Shrinks,
		MappedBytes: s.MappedBytes + o.MappedBytes,
	}
}

type iStat struct {
	remaps  uint64
	grows   uint64
	shrinks uint64
}

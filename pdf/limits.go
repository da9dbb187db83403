package pdf

// Limits bound resource use while parsing hostile input. Zero fields fall
// back to the defaults.
type Limits struct {
	// MaxObjects caps how many indirect objects a document may declare.
	MaxObjects int
	// MaxIndirectDepth caps reference-chain resolution.
	MaxIndirectDepth int
	// MaxNest caps array/dict nesting while parsing a single object.
	MaxNest int
	// MaxStringLength caps a single string token, in bytes.
	MaxStringLength int64
	// MaxStreamLength caps a single raw stream body, in bytes.
	MaxStreamLength int64
	// MaxDecompressedSize caps filter pipeline output, in bytes.
	MaxDecompressedSize int64
	// MaxXrefSections caps the /Prev chain length.
	MaxXrefSections int
	// MaxPages caps the page-tree walk.
	MaxPages int
}

// DefaultLimits are generous enough for real documents while keeping
// decompression bombs and reference loops in check.
func DefaultLimits() Limits {
	return Limits{
		MaxObjects:          500_000,
		MaxIndirectDepth:    32,
		MaxNest:             64,
		MaxStringLength:     8 << 20,
		MaxStreamLength:     256 << 20,
		MaxDecompressedSize: 512 << 20,
		MaxXrefSections:     64,
		MaxPages:            5_000,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxObjects <= 0 {
		l.MaxObjects = d.MaxObjects
	}
	if l.MaxIndirectDepth <= 0 {
		l.MaxIndirectDepth = d.MaxIndirectDepth
	}
	if l.MaxNest <= 0 {
		l.MaxNest = d.MaxNest
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxStreamLength <= 0 {
		l.MaxStreamLength = d.MaxStreamLength
	}
	if l.MaxDecompressedSize <= 0 {
		l.MaxDecompressedSize = d.MaxDecompressedSize
	}
	if l.MaxXrefSections <= 0 {
		l.MaxXrefSections = d.MaxXrefSections
	}
	if l.MaxPages <= 0 {
		l.MaxPages = d.MaxPages
	}
	return l
}

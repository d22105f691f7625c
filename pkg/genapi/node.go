package genapi

// Kind tags the variant a Node carries, mirroring the GenApi schema's
// element types this stack supports.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindString
	KindIntReg
	KindFloatReg
	KindStringReg
	KindEnumeration
	KindCommand
	KindCategory
	KindConverter
	KindSwissKnife
	KindNode
	KindBoolean
	KindMaskedIntReg
	KindRegister
	KindIntConverter
	KindIntSwissKnife
	KindPort
)

// CachingMode controls when a register-backed node's value is re-read from
// its Port versus served from the evaluator's cache.
type CachingMode int

const (
	// NoCache always re-reads the Port.
	NoCache CachingMode = iota
	// WriteThrough updates the cache on every write and serves reads from it
	// until a write to one of the node's PInvalidators invalidates it.
	WriteThrough
	// WriteAround writes through to the Port but invalidates the cache,
	// forcing the next read to go to the Port.
	WriteAround
)

// AccessMode is the effective read/write policy of a node, independent of
// the backing register's own access right.
type AccessMode int

const (
	AccessReadWrite AccessMode = iota
	AccessReadOnly
	AccessWriteOnly
	AccessNotAvailable
)

// EnumEntry is one named value of an Enumeration node.
type EnumEntry struct {
	Name  string
	Value int64
}

// Node is one GenApi node: the NodeBase fields shared by every variant
// plus the kind-specific body. Only the fields relevant to its Kind are
// set. References to other nodes are by name, resolved through the owning
// Store — nodes never hold pointers to each other.
type Node struct {
	id   NodeId
	Name string
	Kind Kind

	// NodeBase predicates: names of integer-valued nodes evaluated and
	// coerced to bool. An empty name means unconditionally implemented/
	// available/unlocked.
	Description    string
	PIsImplemented string
	PIsAvailable   string
	PIsLocked      string

	// Writing any node named here invalidates this node's cache.
	PInvalidators []string

	// Integer / IntReg
	Min, Max, Inc int64

	// Float / FloatReg
	FMin, FMax float64

	// IntReg / FloatReg / StringReg / MaskedIntReg / Register: register
	// backing. The effective address is Address plus, when PAddressNode is
	// set, the current integer value of that node (an IntSwissKnife or
	// index-derived offset).
	Address      uint64
	Length       int
	PAddressNode string
	Caching      CachingMode
	LittleEndian bool

	// MaskedIntReg: bits [LSB, MSB] of the container at Address/Length.
	LSB, MSB int
	Signed   bool

	// Value kind of Integer/Float nodes: when PValue is set, reads come
	// from that node and writes fan out to it plus every PValueCopies
	// entry. When PIndex is set on an Integer node, the node indexed by
	// PIndex's current value is selected from ValueIndexed, falling back to
	// ValueDefault; Float nodes do not consult PIndex.
	PValue       string
	PValueCopies []string
	PIndex       string
	ValueIndexed map[int64]string
	ValueDefault int64

	// Boolean: raw values representing true/false. Both zero means the
	// conventional 1/0 pair.
	OnValue, OffValue int64

	// Enumeration
	Entries []EnumEntry

	// Converter / IntConverter: an affine formula over RefNode
	// (value = (raw + Offset) * Scale; writes invert it).
	Scale   float64
	Offset  int64
	RefNode string

	// SwissKnife / IntSwissKnife: an arithmetic formula whose variables
	// are bound to other nodes by name.
	Formula   string
	Variables map[string]string

	// Category
	PFeatures []string

	Access AccessMode

	// Command: the value written to pulse the command; reads back nonzero
	// while the device is still acting on it.
	CommandValue int64

	// cached value, valid only when Caching != NoCache and cacheValid.
	cacheValid bool
	cacheInt   int64
	cacheFloat float64
	cacheStr   string
}

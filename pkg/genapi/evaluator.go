package genapi

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"u3vgo/pkg/bytesio"
	"u3vgo/pkg/u3verr"
)

// Port is the register-level read/write surface an Evaluator drives
// register-backed nodes through; pkg/memory.Memory satisfies it via a thin
// adapter (see MemoryPort), and a gentl.Device satisfies it over the
// control channel.
type Port interface {
	ReadPort(address uint64, length int) ([]byte, error)
	WritePort(address uint64, data []byte) error
}

// Evaluator is the IValue evaluation core: it resolves node names to typed
// values, enforcing each node's access predicates and honoring its
// CachingMode. Register-backed nodes issue Port reads and
// writes; node graphs are walked with a visited set so a pathological
// reference cycle fails with InvalidData rather than recursing forever.
type Evaluator struct {
	mu    sync.Mutex
	store *Store
	port  Port
}

// NewEvaluator builds an Evaluator over store, reading/writing register-
// backed nodes through port.
func NewEvaluator(store *Store, port Port) *Evaluator {
	return &Evaluator{store: store, port: port}
}

// visitSet tracks the node path of one evaluation walk.
type visitSet map[NodeId]struct{}

func (v visitSet) enter(n *Node) error {
	if _, ok := v[n.id]; ok {
		return u3verr.NewInvalidData("cycle through node " + n.Name)
	}
	v[n.id] = struct{}{}
	return nil
}

func (v visitSet) leave(n *Node) { delete(v, n.id) }

func (e *Evaluator) node(name string) (*Node, error) {
	return e.store.NodeByName(name)
}

// ---- access predicates ---------------------------------------------------

// predicate evaluates the named node as an integer coerced to bool; an
// empty name yields the given default.
func (e *Evaluator) predicate(name string, def bool, vis visitSet) (bool, error) {
	if name == "" {
		return def, nil
	}
	n, err := e.node(name)
	if err != nil {
		return false, err
	}
	v, err := e.getInt(n, vis)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (e *Evaluator) requireReadable(n *Node, vis visitSet) error {
	impl, err := e.predicate(n.PIsImplemented, true, vis)
	if err != nil {
		return err
	}
	avail, err := e.predicate(n.PIsAvailable, true, vis)
	if err != nil {
		return err
	}
	if !impl || !avail || n.Access == AccessWriteOnly || n.Access == AccessNotAvailable {
		return fmt.Errorf("node %q is not readable: %w", n.Name, u3verr.ErrAccessDenied)
	}
	return nil
}

func (e *Evaluator) requireWritable(n *Node, vis visitSet) error {
	impl, err := e.predicate(n.PIsImplemented, true, vis)
	if err != nil {
		return err
	}
	avail, err := e.predicate(n.PIsAvailable, true, vis)
	if err != nil {
		return err
	}
	locked, err := e.predicate(n.PIsLocked, false, vis)
	if err != nil {
		return err
	}
	if !impl || !avail || locked || n.Access == AccessReadOnly || n.Access == AccessNotAvailable {
		return fmt.Errorf("node %q is not writable: %w", n.Name, u3verr.ErrAccessDenied)
	}
	return nil
}

// ---- register plumbing ---------------------------------------------------

func byteOrder(n *Node) binary.ByteOrder {
	if n.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func endianOf(n *Node) bytesio.Endianness {
	if n.LittleEndian {
		return bytesio.LittleEndian
	}
	return bytesio.BigEndian
}

// effectiveAddress resolves the node's register address, adding the value
// of PAddressNode when set (the AddressKind indirection).
func (e *Evaluator) effectiveAddress(n *Node, vis visitSet) (uint64, error) {
	if n.PAddressNode == "" {
		return n.Address, nil
	}
	ref, err := e.node(n.PAddressNode)
	if err != nil {
		return 0, err
	}
	off, err := e.getInt(ref, vis)
	if err != nil {
		return 0, err
	}
	return n.Address + uint64(off), nil
}

func (e *Evaluator) readRegisterInt(n *Node, vis visitSet) (int64, error) {
	if n.Caching != NoCache && n.cacheValid {
		return n.cacheInt, nil
	}
	addr, err := e.effectiveAddress(n, vis)
	if err != nil {
		return 0, err
	}
	raw, err := e.port.ReadPort(addr, n.Length)
	if err != nil {
		return 0, err
	}
	var v int64
	switch n.Length {
	case 4:
		v = int64(int32(byteOrder(n).Uint32(raw)))
	case 8:
		v = int64(byteOrder(n).Uint64(raw))
	default:
		return 0, fmt.Errorf("unsupported integer register length %d on node %q", n.Length, n.Name)
	}
	if n.Caching != NoCache {
		n.cacheInt = v
		n.cacheValid = true
	}
	return v, nil
}

func (e *Evaluator) writeRegisterInt(n *Node, v int64, vis visitSet) error {
	addr, err := e.effectiveAddress(n, vis)
	if err != nil {
		return err
	}
	buf := make([]byte, n.Length)
	switch n.Length {
	case 4:
		byteOrder(n).PutUint32(buf, uint32(int32(v)))
	case 8:
		byteOrder(n).PutUint64(buf, uint64(v))
	default:
		return fmt.Errorf("unsupported integer register length %d on node %q", n.Length, n.Name)
	}
	if err := e.port.WritePort(addr, buf); err != nil {
		return err
	}
	e.commitCacheInt(n, v)
	return nil
}

func (e *Evaluator) commitCacheInt(n *Node, v int64) {
	switch n.Caching {
	case WriteThrough:
		n.cacheInt = v
		n.cacheValid = true
	case WriteAround:
		n.cacheValid = false
	}
	e.invalidateDependents(n.Name)
}

// invalidateDependents drops the cache of every node that lists name among
// its PInvalidators (the GenApi caching contract).
func (e *Evaluator) invalidateDependents(name string) {
	for _, other := range e.store.nodes {
		for _, inv := range other.PInvalidators {
			if inv == name {
				other.cacheValid = false
				break
			}
		}
	}
}

// maskedSpec builds the bitfield spec for a MaskedIntReg node.
func maskedSpec(n *Node) bytesio.BitfieldSpec {
	return bytesio.BitfieldSpec{LSB: n.LSB, MSB: n.MSB, Endian: endianOf(n)}
}

func (e *Evaluator) readMaskedInt(n *Node, vis visitSet) (int64, error) {
	if n.Caching != NoCache && n.cacheValid {
		return n.cacheInt, nil
	}
	addr, err := e.effectiveAddress(n, vis)
	if err != nil {
		return 0, err
	}
	raw, err := e.port.ReadPort(addr, n.Length)
	if err != nil {
		return 0, err
	}
	u := bytesio.ReadBitfield(raw, maskedSpec(n))
	width := uint(n.MSB - n.LSB + 1)
	v := int64(u)
	if n.Signed && width < 64 && u&(1<<(width-1)) != 0 {
		v = int64(u | ^uint64(0)<<width)
	}
	if n.Caching != NoCache {
		n.cacheInt = v
		n.cacheValid = true
	}
	return v, nil
}

func (e *Evaluator) writeMaskedInt(n *Node, v int64, vis visitSet) error {
	addr, err := e.effectiveAddress(n, vis)
	if err != nil {
		return err
	}
	// Read-modify-write: bits outside [LSB,MSB] are preserved.
	raw, err := e.port.ReadPort(addr, n.Length)
	if err != nil {
		return err
	}
	bytesio.WriteBitfield(raw, maskedSpec(n), uint64(v))
	if err := e.port.WritePort(addr, raw); err != nil {
		return err
	}
	e.commitCacheInt(n, v)
	return nil
}

// ---- integer evaluation --------------------------------------------------

// getInt evaluates any node with an integer interpretation. Booleans
// coerce to 0/1; enumerations yield their raw register value. Predicates
// rely on this generous dispatch.
func (e *Evaluator) getInt(n *Node, vis visitSet) (int64, error) {
	if err := vis.enter(n); err != nil {
		return 0, err
	}
	defer vis.leave(n)

	switch n.Kind {
	case KindInteger:
		switch {
		case n.PValue != "":
			ref, err := e.node(n.PValue)
			if err != nil {
				return 0, err
			}
			return e.getInt(ref, vis)
		case n.PIndex != "":
			target, ok, err := e.indexedTarget(n, vis)
			if err != nil {
				return 0, err
			}
			if !ok {
				return n.ValueDefault, nil
			}
			return e.getInt(target, vis)
		default:
			return n.cacheInt, nil
		}
	case KindIntReg, KindEnumeration, KindCommand:
		return e.readRegisterInt(n, vis)
	case KindMaskedIntReg:
		return e.readMaskedInt(n, vis)
	case KindBoolean:
		b, err := e.getBool(n, vis)
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case KindIntConverter:
		ref, err := e.node(n.RefNode)
		if err != nil {
			return 0, err
		}
		raw, err := e.getInt(ref, vis)
		if err != nil {
			return 0, err
		}
		return int64(float64(raw+n.Offset) * n.Scale), nil
	case KindIntSwissKnife:
		f, err := e.evalSwissKnife(n, vis)
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("node %q (kind %d) has no integer value", n.Name, n.Kind)
	}
}

// indexedTarget resolves a PIndex node's currently selected target, or
// ok=false when the index has no ValueIndexed entry.
func (e *Evaluator) indexedTarget(n *Node, vis visitSet) (*Node, bool, error) {
	idxNode, err := e.node(n.PIndex)
	if err != nil {
		return nil, false, err
	}
	idx, err := e.getInt(idxNode, vis)
	if err != nil {
		return nil, false, err
	}
	name, ok := n.ValueIndexed[idx]
	if !ok {
		return nil, false, nil
	}
	target, err := e.node(name)
	if err != nil {
		return nil, false, err
	}
	return target, true, nil
}

func (e *Evaluator) setInt(n *Node, v int64, vis visitSet) error {
	if err := vis.enter(n); err != nil {
		return err
	}
	defer vis.leave(n)

	switch n.Kind {
	case KindInteger:
		switch {
		case n.PValue != "":
			// PValue semantics: the write propagates to p_value and every
			// copy.
			targets := append([]string{n.PValue}, n.PValueCopies...)
			for _, name := range targets {
				ref, err := e.node(name)
				if err != nil {
					return err
				}
				if err := e.setInt(ref, v, vis); err != nil {
					return err
				}
			}
			return nil
		case n.PIndex != "":
			target, ok, err := e.indexedTarget(n, vis)
			if err != nil {
				return err
			}
			if !ok {
				return u3verr.NewInvalidData("no indexed value selected on node " + n.Name)
			}
			return e.setInt(target, v, vis)
		default:
			n.cacheInt = v
			n.cacheValid = true
			e.invalidateDependents(n.Name)
			return nil
		}
	case KindIntReg, KindEnumeration, KindCommand:
		return e.writeRegisterInt(n, v, vis)
	case KindMaskedIntReg:
		return e.writeMaskedInt(n, v, vis)
	case KindIntConverter:
		ref, err := e.node(n.RefNode)
		if err != nil {
			return err
		}
		if n.Scale == 0 {
			return u3verr.NewInvalidData("converter " + n.Name + " has zero scale")
		}
		raw := int64(float64(v)/n.Scale) - n.Offset
		return e.setInt(ref, raw, vis)
	default:
		return fmt.Errorf("node %q (kind %d) is not integer-writable", n.Name, n.Kind)
	}
}

// clampInt applies an Integer node's Min/Max/Inc constraints the way
// GenApi integer features do: round down to the nearest Inc step, then
// clamp into [Min, Max]. A zero Max means no upper bound.
func clampInt(n *Node, v int64) int64 {
	if n.Inc > 1 {
		v -= (v - n.Min) % n.Inc
	}
	if n.Max != 0 && v > n.Max {
		v = n.Max
	}
	if v < n.Min {
		v = n.Min
	}
	return v
}

// ---- float evaluation ----------------------------------------------------

func (e *Evaluator) getFloat(n *Node, vis visitSet) (float64, error) {
	switch n.Kind {
	case KindFloat:
		if err := vis.enter(n); err != nil {
			return 0, err
		}
		defer vis.leave(n)
		if n.PValue != "" {
			ref, err := e.node(n.PValue)
			if err != nil {
				return 0, err
			}
			return e.getFloat(ref, vis)
		}
		return n.cacheFloat, nil
	case KindFloatReg:
		if err := vis.enter(n); err != nil {
			return 0, err
		}
		defer vis.leave(n)
		return e.readRegisterFloat(n, vis)
	case KindConverter:
		if err := vis.enter(n); err != nil {
			return 0, err
		}
		defer vis.leave(n)
		ref, err := e.node(n.RefNode)
		if err != nil {
			return 0, err
		}
		raw, err := e.getInt(ref, vis)
		if err != nil {
			return 0, err
		}
		return float64(raw+n.Offset) * n.Scale, nil
	case KindSwissKnife:
		if err := vis.enter(n); err != nil {
			return 0, err
		}
		defer vis.leave(n)
		return e.evalSwissKnife(n, vis)
	default:
		v, err := e.getInt(n, vis)
		if err != nil {
			return 0, err
		}
		return float64(v), nil
	}
}

func (e *Evaluator) readRegisterFloat(n *Node, vis visitSet) (float64, error) {
	addr, err := e.effectiveAddress(n, vis)
	if err != nil {
		return 0, err
	}
	raw, err := e.port.ReadPort(addr, n.Length)
	if err != nil {
		return 0, err
	}
	switch n.Length {
	case 4:
		return float64(math.Float32frombits(byteOrder(n).Uint32(raw))), nil
	case 8:
		return math.Float64frombits(byteOrder(n).Uint64(raw)), nil
	default:
		return 0, fmt.Errorf("unsupported float register length %d on node %q", n.Length, n.Name)
	}
}

func (e *Evaluator) setFloat(n *Node, v float64, vis visitSet) error {
	if err := vis.enter(n); err != nil {
		return err
	}
	defer vis.leave(n)

	switch n.Kind {
	case KindFloat:
		if n.PValue != "" {
			// PValue semantics: the write propagates to p_value and every
			// copy.
			targets := append([]string{n.PValue}, n.PValueCopies...)
			for _, name := range targets {
				ref, err := e.node(name)
				if err != nil {
					return err
				}
				if err := e.setFloat(ref, v, vis); err != nil {
					return err
				}
			}
			return nil
		}
		n.cacheFloat = v
		e.invalidateDependents(n.Name)
		return nil
	case KindFloatReg:
		addr, err := e.effectiveAddress(n, vis)
		if err != nil {
			return err
		}
		buf := make([]byte, n.Length)
		switch n.Length {
		case 4:
			byteOrder(n).PutUint32(buf, math.Float32bits(float32(v)))
		case 8:
			byteOrder(n).PutUint64(buf, math.Float64bits(v))
		default:
			return fmt.Errorf("unsupported float register length %d on node %q", n.Length, n.Name)
		}
		if err := e.port.WritePort(addr, buf); err != nil {
			return err
		}
		e.invalidateDependents(n.Name)
		return nil
	case KindConverter:
		ref, err := e.node(n.RefNode)
		if err != nil {
			return err
		}
		if n.Scale == 0 {
			return u3verr.NewInvalidData("converter " + n.Name + " has zero scale")
		}
		raw := int64(v/n.Scale) - n.Offset
		return e.setInt(ref, raw, vis)
	default:
		return fmt.Errorf("node %q is not a float node", n.Name)
	}
}

// evalSwissKnife evaluates a SwissKnife/IntSwissKnife formula, resolving
// each variable through its bound node.
func (e *Evaluator) evalSwissKnife(n *Node, vis visitSet) (float64, error) {
	return evalFormula(n.Formula, func(name string) (float64, error) {
		bound, ok := n.Variables[name]
		if !ok {
			return 0, u3verr.NewInvalidData("formula variable " + name + " is not bound on node " + n.Name)
		}
		ref, err := e.node(bound)
		if err != nil {
			return 0, err
		}
		return e.getFloat(ref, vis)
	})
}

// ---- boolean evaluation --------------------------------------------------

func (n *Node) onOff() (on, off int64) {
	if n.OnValue == 0 && n.OffValue == 0 {
		return 1, 0
	}
	return n.OnValue, n.OffValue
}

func (e *Evaluator) getBool(n *Node, vis visitSet) (bool, error) {
	on, _ := n.onOff()
	if n.Length > 0 {
		// Register-backed boolean.
		backing := *n
		backing.Kind = KindIntReg
		v, err := e.readRegisterInt(&backing, vis)
		if err != nil {
			return false, err
		}
		n.cacheValid = backing.cacheValid
		n.cacheInt = backing.cacheInt
		return v == on, nil
	}
	if n.PValue != "" {
		ref, err := e.node(n.PValue)
		if err != nil {
			return false, err
		}
		v, err := e.getInt(ref, vis)
		if err != nil {
			return false, err
		}
		return v == on, nil
	}
	return n.cacheInt == on, nil
}

func (e *Evaluator) setBool(n *Node, b bool, vis visitSet) error {
	on, off := n.onOff()
	v := off
	if b {
		v = on
	}
	if n.Length > 0 {
		backing := *n
		backing.Kind = KindIntReg
		if err := e.writeRegisterInt(&backing, v, vis); err != nil {
			return err
		}
		n.cacheValid = backing.cacheValid
		n.cacheInt = backing.cacheInt
		e.invalidateDependents(n.Name)
		return nil
	}
	if n.PValue != "" {
		ref, err := e.node(n.PValue)
		if err != nil {
			return err
		}
		return e.setInt(ref, v, vis)
	}
	n.cacheInt = v
	n.cacheValid = true
	e.invalidateDependents(n.Name)
	return nil
}

// ---- public API ----------------------------------------------------------

// GetInt reads the current value of any integer-valued node (Integer,
// IntReg, MaskedIntReg, IntConverter, IntSwissKnife, Boolean, Enumeration
// raw value).
func (e *Evaluator) GetInt(name string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return 0, err
	}
	vis := visitSet{}
	if err := e.requireReadable(n, vis); err != nil {
		return 0, err
	}
	return e.getInt(n, vis)
}

// SetInt writes an integer-valued node, clamping to [Min, Max] (no upper
// bound when Max is 0) and rounding down to the nearest Inc step as GenApi
// Integer features do.
func (e *Evaluator) SetInt(name string, v int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	vis := visitSet{}
	if err := e.requireWritable(n, vis); err != nil {
		return err
	}
	return e.setInt(n, clampInt(n, v), vis)
}

// GetFloat reads a Float, FloatReg, Converter, or SwissKnife node's
// current value; integer-valued nodes coerce.
func (e *Evaluator) GetFloat(name string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return 0, err
	}
	vis := visitSet{}
	if err := e.requireReadable(n, vis); err != nil {
		return 0, err
	}
	return e.getFloat(n, vis)
}

// SetFloat writes a Float, FloatReg, or Converter node's value.
func (e *Evaluator) SetFloat(name string, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	vis := visitSet{}
	if err := e.requireWritable(n, vis); err != nil {
		return err
	}
	return e.setFloat(n, v, vis)
}

// GetBool reads a Boolean node.
func (e *Evaluator) GetBool(name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return false, err
	}
	if n.Kind != KindBoolean {
		return false, fmt.Errorf("node %q is not a boolean", name)
	}
	vis := visitSet{}
	if err := e.requireReadable(n, vis); err != nil {
		return false, err
	}
	return e.getBool(n, vis)
}

// SetBool writes a Boolean node.
func (e *Evaluator) SetBool(name string, v bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	if n.Kind != KindBoolean {
		return fmt.Errorf("node %q is not a boolean", name)
	}
	vis := visitSet{}
	if err := e.requireWritable(n, vis); err != nil {
		return err
	}
	return e.setBool(n, v, vis)
}

// GetString reads a String or StringReg node's current value.
func (e *Evaluator) GetString(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return "", err
	}
	vis := visitSet{}
	if err := e.requireReadable(n, vis); err != nil {
		return "", err
	}
	switch n.Kind {
	case KindString:
		return n.cacheStr, nil
	case KindStringReg:
		addr, err := e.effectiveAddress(n, vis)
		if err != nil {
			return "", err
		}
		raw, err := e.port.ReadPort(addr, n.Length)
		if err != nil {
			return "", err
		}
		return bytesio.FixedASCII(raw), nil
	default:
		return "", fmt.Errorf("node %q is not a string node", name)
	}
}

// SetString writes a String or StringReg node's value.
func (e *Evaluator) SetString(name, v string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	vis := visitSet{}
	if err := e.requireWritable(n, vis); err != nil {
		return err
	}
	switch n.Kind {
	case KindString:
		n.cacheStr = v
		return nil
	case KindStringReg:
		if len(v) > n.Length {
			return fmt.Errorf("value too long for node %q (max %d bytes): %w", name, n.Length, u3verr.NewInvalidData("string overflow"))
		}
		addr, err := e.effectiveAddress(n, vis)
		if err != nil {
			return err
		}
		buf := make([]byte, n.Length)
		if err := bytesio.PutFixedASCII(buf, v); err != nil {
			return err
		}
		if err := e.port.WritePort(addr, buf); err != nil {
			return err
		}
		e.invalidateDependents(n.Name)
		return nil
	default:
		return fmt.Errorf("node %q is not a string node", name)
	}
}

// GetEnum reads an Enumeration node's current symbolic entry name.
func (e *Evaluator) GetEnum(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return "", err
	}
	if n.Kind != KindEnumeration {
		return "", fmt.Errorf("node %q is not an enumeration", name)
	}
	vis := visitSet{}
	if err := e.requireReadable(n, vis); err != nil {
		return "", err
	}
	raw, err := e.getInt(n, vis)
	if err != nil {
		return "", err
	}
	for _, entry := range n.Entries {
		if entry.Value == raw {
			return entry.Name, nil
		}
	}
	return "", fmt.Errorf("node %q has unknown raw value %d", name, raw)
}

// SetEnum writes an Enumeration node by its symbolic entry name.
func (e *Evaluator) SetEnum(name, entryName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	if n.Kind != KindEnumeration {
		return fmt.Errorf("node %q is not an enumeration", name)
	}
	vis := visitSet{}
	if err := e.requireWritable(n, vis); err != nil {
		return err
	}
	for _, entry := range n.Entries {
		if entry.Name == entryName {
			return e.setInt(n, entry.Value, vis)
		}
	}
	return fmt.Errorf("node %q has no entry %q", name, entryName)
}

// Execute pulses a Command node by writing its CommandValue into its
// backing register (or p_value node).
func (e *Evaluator) Execute(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	if n.Kind != KindCommand {
		return fmt.Errorf("node %q is not a command", name)
	}
	vis := visitSet{}
	if err := e.requireWritable(n, vis); err != nil {
		return err
	}
	if n.PValue != "" {
		ref, err := e.node(n.PValue)
		if err != nil {
			return err
		}
		return e.setInt(ref, n.CommandValue, vis)
	}
	return e.writeRegisterInt(n, n.CommandValue, vis)
}

// IsDone reports whether a previously Executed Command node has completed,
// per the GenApi convention that a command register reads back to zero once
// the device has finished acting on it.
func (e *Evaluator) IsDone(name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return false, err
	}
	if n.Kind != KindCommand {
		return false, fmt.Errorf("node %q is not a command", name)
	}
	vis := visitSet{}
	raw, err := e.getInt(n, vis)
	if err != nil {
		return false, err
	}
	return raw == 0, nil
}

// Features returns the feature node names of a Category node.
func (e *Evaluator) Features(name string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindCategory {
		return nil, fmt.Errorf("node %q is not a category", name)
	}
	out := make([]string, len(n.PFeatures))
	copy(out, n.PFeatures)
	return out, nil
}

// GetRegister reads a raw Register node's bytes.
func (e *Evaluator) GetRegister(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindRegister {
		return nil, fmt.Errorf("node %q is not a register", name)
	}
	vis := visitSet{}
	if err := e.requireReadable(n, vis); err != nil {
		return nil, err
	}
	addr, err := e.effectiveAddress(n, vis)
	if err != nil {
		return nil, err
	}
	return e.port.ReadPort(addr, n.Length)
}

// SetRegister writes a raw Register node's bytes.
func (e *Evaluator) SetRegister(name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	if n.Kind != KindRegister {
		return fmt.Errorf("node %q is not a register", name)
	}
	vis := visitSet{}
	if err := e.requireWritable(n, vis); err != nil {
		return err
	}
	if len(data) != n.Length {
		return u3verr.NewInvalidData("register data length mismatch on node " + name)
	}
	addr, err := e.effectiveAddress(n, vis)
	if err != nil {
		return err
	}
	if err := e.port.WritePort(addr, data); err != nil {
		return err
	}
	e.invalidateDependents(n.Name)
	return nil
}

// ReadPortNode reads length bytes at address through a Port node, the
// GenApi element register-backed features reference via pPort.
func (e *Evaluator) ReadPortNode(name string, address uint64, length int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindPort {
		return nil, fmt.Errorf("node %q is not a port", name)
	}
	return e.port.ReadPort(address, length)
}

// WritePortNode writes data at address through a Port node.
func (e *Evaluator) WritePortNode(name string, address uint64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.node(name)
	if err != nil {
		return err
	}
	if n.Kind != KindPort {
		return fmt.Errorf("node %q is not a port", name)
	}
	return e.port.WritePort(address, data)
}

package genapi

import (
	"errors"
	"testing"

	"u3vgo/pkg/memory"
	"u3vgo/pkg/u3verr"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *Store) {
	t.Helper()
	mem := memory.New(64)
	if err := mem.InitRegister(memory.Register{Name: "raw", Address: 0, Length: 8, Access: memory.RW}); err != nil {
		t.Fatal(err)
	}
	store := NewStore()
	return NewEvaluator(store, MemoryPort{Mem: mem}), store
}

func TestIntRegRoundTrip(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Gain", Kind: KindIntReg, Address: 0, Length: 8, Min: 0, Max: 1000, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("Gain", 42); err != nil {
		t.Fatal(err)
	}
	got, err := ev.GetInt("Gain")
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d", got)
	}
}

func TestIntRegClampsToRange(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Gain", Kind: KindIntReg, Address: 0, Length: 8, Min: 0, Max: 100, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("Gain", 9999); err != nil {
		t.Fatal(err)
	}
	got, err := ev.GetInt("Gain")
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Fatalf("got %d, want clamped to 100", got)
	}
}

func TestWriteThroughCaching(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Gain", Kind: KindIntReg, Address: 0, Length: 8, Max: 1000, Inc: 1, Caching: WriteThrough, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("Gain", 7); err != nil {
		t.Fatal(err)
	}
	n, _ := store.NodeByName("Gain")
	if !n.cacheValid || n.cacheInt != 7 {
		t.Fatalf("expected cache populated after write-through, got %+v", n)
	}
}

func TestEnumerationRoundTrip(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{
		Name: "PixelFormat", Kind: KindEnumeration, Address: 0, Length: 8, LittleEndian: true,
		Entries: []EnumEntry{{Name: "Mono8", Value: 0x01080001}, {Name: "RGB8", Value: 0x02180014}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetEnum("PixelFormat", "RGB8"); err != nil {
		t.Fatal(err)
	}
	got, err := ev.GetEnum("PixelFormat")
	if err != nil {
		t.Fatal(err)
	}
	if got != "RGB8" {
		t.Fatalf("got %q", got)
	}
}

func TestReadOnlyNodeRejectsWrite(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Width", Kind: KindIntReg, Address: 0, Length: 8, Access: AccessReadOnly, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("Width", 1); err == nil {
		t.Fatal("expected write to read-only node to fail")
	}
}

func TestConverterAppliesOffsetAndScale(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "RawExposure", Kind: KindIntReg, Address: 0, Length: 8, Max: 100000, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "ExposureUs", Kind: KindConverter, RefNode: "RawExposure", Offset: 0, Scale: 0.1}); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("RawExposure", 1000); err != nil {
		t.Fatal(err)
	}
	got, err := ev.GetFloat("ExposureUs")
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Fatalf("got %v, want 100", got)
	}
}

func TestCommandExecuteAndIsDone(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "TriggerSoftware", Kind: KindCommand, Address: 0, Length: 8, CommandValue: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if err := ev.Execute("TriggerSoftware"); err != nil {
		t.Fatal(err)
	}
	done, err := ev.IsDone("TriggerSoftware")
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("expected not done immediately after writing a nonzero command value")
	}
}

func TestPValueFanOut(t *testing.T) {
	ev, store := newTestEvaluator(t)
	mustAdd := func(n *Node) {
		t.Helper()
		if _, err := store.Add(n); err != nil {
			t.Fatal(err)
		}
	}
	mustAdd(&Node{Name: "GainRaw", Kind: KindIntReg, Address: 0, Length: 4, Max: 1 << 30, Inc: 1, LittleEndian: true})
	mustAdd(&Node{Name: "GainShadow", Kind: KindIntReg, Address: 4, Length: 4, Max: 1 << 30, Inc: 1, LittleEndian: true})
	mustAdd(&Node{Name: "Gain", Kind: KindInteger, PValue: "GainRaw", PValueCopies: []string{"GainShadow"}, Max: 1 << 30, Inc: 1})

	if err := ev.SetInt("Gain", 99); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Gain", "GainRaw", "GainShadow"} {
		got, err := ev.GetInt(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != 99 {
			t.Fatalf("%s: got %d, want 99 (PValue write must fan out)", name, got)
		}
	}
}

func TestPIndexSelectsByIndex(t *testing.T) {
	ev, store := newTestEvaluator(t)
	mustAdd := func(n *Node) {
		t.Helper()
		if _, err := store.Add(n); err != nil {
			t.Fatal(err)
		}
	}
	mustAdd(&Node{Name: "Selector", Kind: KindIntReg, Address: 0, Length: 4, Max: 10, Inc: 1, LittleEndian: true})
	mustAdd(&Node{Name: "Value0", Kind: KindIntReg, Address: 4, Length: 4, Max: 1 << 30, Inc: 1, LittleEndian: true})
	mustAdd(&Node{Name: "Indexed", Kind: KindInteger, PIndex: "Selector",
		ValueIndexed: map[int64]string{0: "Value0"}, ValueDefault: -7, Min: -100, Max: 1 << 30, Inc: 1})

	if err := ev.SetInt("Value0", 123); err != nil {
		t.Fatal(err)
	}
	got, err := ev.GetInt("Indexed")
	if err != nil {
		t.Fatal(err)
	}
	if got != 123 {
		t.Fatalf("index 0: got %d, want 123", got)
	}

	if err := ev.SetInt("Selector", 5); err != nil {
		t.Fatal(err)
	}
	got, err = ev.GetInt("Indexed")
	if err != nil {
		t.Fatal(err)
	}
	if got != -7 {
		t.Fatalf("unmapped index: got %d, want default -7", got)
	}
}

func TestMaskedIntRegPreservesOtherBits(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Container", Kind: KindIntReg, Address: 0, Length: 4, Max: 1 << 30, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "MidBits", Kind: KindMaskedIntReg, Address: 0, Length: 4, LSB: 4, MSB: 7, LittleEndian: true, Max: 15, Inc: 1}); err != nil {
		t.Fatal(err)
	}

	if err := ev.SetInt("Container", 0xFF0F); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("MidBits", 0xA); err != nil {
		t.Fatal(err)
	}
	got, err := ev.GetInt("Container")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xFFAF {
		t.Fatalf("got container %#x, want 0xFFAF (bits outside [4,7] preserved)", got)
	}
	mid, err := ev.GetInt("MidBits")
	if err != nil {
		t.Fatal(err)
	}
	if mid != 0xA {
		t.Fatalf("got masked value %#x, want 0xA", mid)
	}
}

func TestBooleanOverRegisterBit(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "EnableBit", Kind: KindMaskedIntReg, Address: 0, Length: 4, LSB: 0, MSB: 0, LittleEndian: true, Max: 1, Inc: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "Enable", Kind: KindBoolean, PValue: "EnableBit"}); err != nil {
		t.Fatal(err)
	}

	on, err := ev.GetBool("Enable")
	if err != nil {
		t.Fatal(err)
	}
	if on {
		t.Fatal("expected false before any write")
	}
	if err := ev.SetBool("Enable", true); err != nil {
		t.Fatal(err)
	}
	on, err = ev.GetBool("Enable")
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Fatal("expected true after SetBool(true)")
	}
}

func TestIntSwissKnifeFormula(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Width", Kind: KindIntReg, Address: 0, Length: 4, Max: 1 << 20, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "Height", Kind: KindIntReg, Address: 4, Length: 4, Max: 1 << 20, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{
		Name: "PayloadSize", Kind: KindIntSwissKnife,
		Formula:   "W * H + 16",
		Variables: map[string]string{"W": "Width", "H": "Height"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := ev.SetInt("Width", 640); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("Height", 480); err != nil {
		t.Fatal(err)
	}
	got, err := ev.GetInt("PayloadSize")
	if err != nil {
		t.Fatal(err)
	}
	if got != 640*480+16 {
		t.Fatalf("got %d", got)
	}
}

func TestCycleDetection(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "A", Kind: KindInteger, PValue: "B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "B", Kind: KindInteger, PValue: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ev.GetInt("A"); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestAvailabilityPredicateGatesAccess(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "FeatureAvailable", Kind: KindIntReg, Address: 0, Length: 4, Max: 1, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "Exposure", Kind: KindIntReg, Address: 4, Length: 4, Max: 1 << 30, Inc: 1, LittleEndian: true, PIsAvailable: "FeatureAvailable"}); err != nil {
		t.Fatal(err)
	}

	if _, err := ev.GetInt("Exposure"); !errors.Is(err, u3verr.ErrAccessDenied) {
		t.Fatalf("got %v, want ErrAccessDenied while unavailable", err)
	}
	if err := ev.SetInt("FeatureAvailable", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := ev.GetInt("Exposure"); err != nil {
		t.Fatalf("expected readable once available: %v", err)
	}
}

func TestLockedNodeRejectsWriteButAllowsRead(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "AcquisitionActive", Kind: KindIntReg, Address: 0, Length: 4, Max: 1, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "PixelClock", Kind: KindIntReg, Address: 4, Length: 4, Max: 1 << 30, Inc: 1, LittleEndian: true, PIsLocked: "AcquisitionActive"}); err != nil {
		t.Fatal(err)
	}

	if err := ev.SetInt("AcquisitionActive", 1); err != nil {
		t.Fatal(err)
	}
	if err := ev.SetInt("PixelClock", 10); !errors.Is(err, u3verr.ErrAccessDenied) {
		t.Fatalf("got %v, want ErrAccessDenied while locked", err)
	}
	if _, err := ev.GetInt("PixelClock"); err != nil {
		t.Fatalf("locked node must remain readable: %v", err)
	}
}

func TestInvalidatorDropsCache(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Mode", Kind: KindIntReg, Address: 0, Length: 4, Max: 10, Inc: 1, LittleEndian: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(&Node{Name: "Derived", Kind: KindIntReg, Address: 4, Length: 4, Max: 1 << 30, Inc: 1, LittleEndian: true,
		Caching: WriteThrough, PInvalidators: []string{"Mode"}}); err != nil {
		t.Fatal(err)
	}

	if err := ev.SetInt("Derived", 5); err != nil {
		t.Fatal(err)
	}
	n, _ := store.NodeByName("Derived")
	if !n.cacheValid {
		t.Fatal("expected Derived cached after write-through")
	}
	if err := ev.SetInt("Mode", 1); err != nil {
		t.Fatal(err)
	}
	if n.cacheValid {
		t.Fatal("expected Mode write to invalidate Derived's cache")
	}
}

func TestCategoryFeatures(t *testing.T) {
	ev, store := newTestEvaluator(t)
	if _, err := store.Add(&Node{Name: "Root", Kind: KindCategory, PFeatures: []string{"A", "B"}}); err != nil {
		t.Fatal(err)
	}
	feats, err := ev.Features("Root")
	if err != nil {
		t.Fatal(err)
	}
	if len(feats) != 2 || feats[0] != "A" || feats[1] != "B" {
		t.Fatalf("got %v", feats)
	}
}

func TestBootstrapStoreNodes(t *testing.T) {
	store, err := BuildBootstrapStore()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"DeviceSerialNumber", "Timestamp", "TimestampNs", "DeviceControl", "DevicePort", "MultiEventEnable"} {
		if _, ok := store.Lookup(name); !ok {
			t.Fatalf("bootstrap store missing node %q", name)
		}
	}
}

// Command gentl-selftest builds one emulated device, enumerates it through
// the GenTL System/Interface/Device trio exactly as a consumer application
// would, and exercises a handful of GenApi nodes end to end. It exits
// nonzero on the first failure, making it useful as a smoke test for CI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"u3vgo/pkg/emulator"
	"u3vgo/pkg/gentl"
)

func main() {
	serial := flag.String("serial", "SELFTEST", "serial number of the device under test")
	flag.Parse()

	if err := run(*serial); err != nil {
		log.Fatalf("gentl-selftest failed: %v", err)
	}
	fmt.Println("gentl-selftest: ok")
}

func run(serial string) error {
	dev, err := emulator.NewDevice(emulator.Identity{
		ManufacturerName: "Acme Vision",
		ModelName:        "EMU-1",
		FamilyName:       "Emulated U3V Camera",
		DeviceVersion:    "1.0",
		ManufacturerInfo: "gentl-selftest",
		SerialNumber:     serial,
		GenICamXML:       []byte("<RegisterDescription/>"),
	})
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}

	pool := emulator.Default()
	pool.Add(dev)
	defer pool.Disconnect(dev.GUID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sys := gentl.NewSystem(pool)
	log.Printf("producer: %s (%s)", sys.TLID(), sys.ModelName())

	changed, err := sys.UpdateDeviceList(ctx)
	if err != nil {
		return fmt.Errorf("update device list: %w", err)
	}
	if !changed {
		return fmt.Errorf("expected the first device-list update to report a change")
	}

	iface := sys.Interfaces()[0]
	if n := iface.NumDevices(); n != 1 {
		return fmt.Errorf("expected 1 device, found %d", n)
	}
	guid, err := iface.DeviceID(0)
	if err != nil {
		return fmt.Errorf("get device id: %w", err)
	}
	info, err := iface.DeviceInfo(0)
	if err != nil {
		return fmt.Errorf("get device info: %w", err)
	}
	log.Printf("found device: guid=%s vendor=%q model=%q", guid, info.ManufacturerName, info.ModelName)

	handle, err := iface.OpenDevice(guid, "gentl-selftest")
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer handle.Close()

	got, err := handle.Nodes.GetString("DeviceSerialNumber")
	if err != nil {
		return fmt.Errorf("read DeviceSerialNumber node: %w", err)
	}
	if got != serial {
		return fmt.Errorf("serial mismatch: got %q, want %q", got, serial)
	}

	ns, err := handle.Nodes.GetInt("TimestampNs")
	if err != nil {
		return fmt.Errorf("read TimestampNs node: %w", err)
	}
	log.Printf("device timestamp: %d ns", ns)

	if _, err := handle.ReadMemory(ctx, 0, 4); err != nil {
		return fmt.Errorf("raw read of GenCpVersion: %w", err)
	}

	return nil
}

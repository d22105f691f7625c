// Command u3v-emulator runs an in-process USB3 Vision device and exercises
// its control channel over the fake-wire pipe implemented by pkg/emulator,
// logging each step so the bring-up sequence is visible without real
// hardware attached.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"u3vgo/internal/config"
	"u3vgo/pkg/emulator"
	"u3vgo/pkg/gentl"
	"u3vgo/pkg/u3v/registermap"
)

func main() {
	serial := flag.String("serial", "", "override the emulated device's serial number")
	xmlPath := flag.String("genicam-xml", "", "path to a GenICam device description XML file to advertise")
	flag.Parse()

	profile, err := config.LoadDeviceProfile()
	if err != nil {
		log.Fatalf("load device profile: %v", err)
	}
	if *serial != "" {
		profile.SerialNumber = *serial
	}

	xml := []byte("<RegisterDescription/>")
	if *xmlPath != "" {
		data, err := os.ReadFile(*xmlPath)
		if err != nil {
			log.Fatalf("read genicam xml: %v", err)
		}
		xml = data
	}

	dev, err := emulator.NewDevice(emulator.Identity{
		ManufacturerName: profile.ManufacturerName,
		ModelName:        profile.ModelName,
		FamilyName:       profile.FamilyName,
		DeviceVersion:    profile.DeviceVersion,
		ManufacturerInfo: profile.ManufacturerInfo,
		SerialNumber:     profile.SerialNumber,
		GenICamXML:       xml,
	})
	if err != nil {
		log.Fatalf("build emulated device: %v", err)
	}
	log.Printf("emulated device ready: guid=%s serial=%s", dev.GUID, profile.SerialNumber)

	pool := emulator.Default()
	pool.Add(dev)
	defer pool.Disconnect(dev.GUID)

	sys := gentl.NewSystem(pool)
	iface := sys.Interfaces()[0]

	handle, err := iface.OpenDevice(dev.GUID, "u3v-emulator-self")
	if err != nil {
		log.Fatalf("open device: %v", err)
	}
	defer handle.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serialBytes, err := handle.ReadMemory(ctx, registermap.AddrSerialNumber, 64)
	if err != nil {
		log.Fatalf("read serial number: %v", err)
	}
	log.Printf("control channel confirmed serial number readback: %q", trimNUL(serialBytes))

	log.Printf("u3v-emulator running; press Ctrl+C to exit")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down")
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

package model

import "fmt"

// Endpoint is a stable short id for one GATT characteristic. Bridge packets
// carry it instead of the 128-bit UUID.
type Endpoint uint8

const (
	EndpointWrite  Endpoint = 0x00
	EndpointNotify Endpoint = 0x01

	EndpointDISModel        Endpoint = 0x08
	EndpointDISSerial       Endpoint = 0x09
	EndpointDISFirmware     Endpoint = 0x0A
	EndpointDISHardware     Endpoint = 0x0B
	EndpointDISSoftware     Endpoint = 0x0C
	EndpointDISManufacturer Endpoint = 0x0D

	EndpointWideFFE1 Endpoint = 0x10
	EndpointWideFFE9 Endpoint = 0x11
	EndpointWideFFEA Endpoint = 0x12

	EndpointLink3FFD1    Endpoint = 0x20
	EndpointLink3FFD2    Endpoint = 0x21
	EndpointLink3FFD3    Endpoint = 0x22
	EndpointLink3FFD4    Endpoint = 0x23
	EndpointLink3FFF1    Endpoint = 0x24
	EndpointLink3FFE0    Endpoint = 0x25
	EndpointLink3FFE1    Endpoint = 0x26
	EndpointLink3FFF3    Endpoint = 0x27
	EndpointLink3FFF4    Endpoint = 0x28
	EndpointLink3FFF5    Endpoint = 0x29
	EndpointLink3Control Endpoint = 0x2A
	EndpointLink3Status  Endpoint = 0x2B
)

func (e Endpoint) String() string {
	return fmt.Sprintf("endpoint(0x%02x)", uint8(e))
}

// Source says where a characteristic's read value comes from.
type Source uint8

const (
	// SourceNone has no readable value.
	SourceNone Source = iota
	// SourceStatic returns Characteristic.Value verbatim.
	SourceStatic
	// SourceStatus returns the 12-byte film/battery status block.
	SourceStatus
	// SourceIdentity returns one identity string, chosen by IdentityField.
	SourceIdentity
	// SourceNotFound answers reads with attribute-not-found.
	SourceNotFound
)

// Characteristic describes one GATT characteristic exposed for a model.
type Characteristic struct {
	Endpoint Endpoint
	Service  string
	UUID     string
	Read     bool
	Write    bool
	Notify   bool
	Source   Source
	Value    []byte
	// IdentityField selects the Identity string for SourceIdentity.
	IdentityField string
	// NotifyOnSubscribe pushes the read value when a client subscribes.
	NotifyOnSubscribe bool
	// NotifyOnWrite pushes the read value after any write.
	NotifyOnWrite bool
	// StatusTracksBusy clears the ready byte of the status block while the
	// printer is busy. Without it the byte always reads ready.
	StatusTracksBusy bool
}

const (
	ServiceInstax      = "70954782-2d83-473d-9e5f-81e1d02d5273"
	CharInstaxWrite    = "70954783-2d83-473d-9e5f-81e1d02d5273"
	CharInstaxNotify   = "70954784-2d83-473d-9e5f-81e1d02d5273"
	ServiceDeviceInfo  = "0000180a-0000-1000-8000-00805f9b34fb"
	ServiceLink3Info   = "0000d0ff-3c17-d293-8e48-14fe2e4da212"
	ServiceLink3Status = "00006287-3c17-d293-8e48-14fe2e4da212"
	ServiceWide        = "0000e0ff-3c17-d293-8e48-14fe2e4da212"
)

func vendorUUID(short uint16) string {
	return fmt.Sprintf("0000%04x-3c17-d293-8e48-14fe2e4da212", short)
}

func sigUUID(short uint16) string {
	return fmt.Sprintf("0000%04x-0000-1000-8000-00805f9b34fb", short)
}

var primaryCharacteristics = []Characteristic{
	{Endpoint: EndpointWrite, Service: ServiceInstax, UUID: CharInstaxWrite, Write: true},
	{Endpoint: EndpointNotify, Service: ServiceInstax, UUID: CharInstaxNotify, Read: true, Notify: true},
	{Endpoint: EndpointDISModel, Service: ServiceDeviceInfo, UUID: sigUUID(0x2A24), Read: true, Source: SourceIdentity, IdentityField: "model_number"},
	{Endpoint: EndpointDISSerial, Service: ServiceDeviceInfo, UUID: sigUUID(0x2A25), Read: true, Source: SourceIdentity, IdentityField: "serial"},
	{Endpoint: EndpointDISFirmware, Service: ServiceDeviceInfo, UUID: sigUUID(0x2A26), Read: true, Source: SourceIdentity, IdentityField: "firmware_revision"},
	{Endpoint: EndpointDISHardware, Service: ServiceDeviceInfo, UUID: sigUUID(0x2A27), Read: true, Source: SourceIdentity, IdentityField: "hardware_revision"},
	{Endpoint: EndpointDISSoftware, Service: ServiceDeviceInfo, UUID: sigUUID(0x2A28), Read: true, Source: SourceIdentity, IdentityField: "software_revision"},
	{Endpoint: EndpointDISManufacturer, Service: ServiceDeviceInfo, UUID: sigUUID(0x2A29), Read: true, Source: SourceIdentity, IdentityField: "manufacturer"},
}

var squareCharacteristics = primaryCharacteristics

var miniCharacteristics = append(append([]Characteristic(nil), primaryCharacteristics...),
	Characteristic{Endpoint: EndpointLink3FFD1, Service: ServiceLink3Info, UUID: vendorUUID(0xFFD1), Read: true, Source: SourceStatic,
		Value: []byte{0x00, 0x00, 0x00, 0x00}},
	Characteristic{Endpoint: EndpointLink3FFD2, Service: ServiceLink3Info, UUID: vendorUUID(0xFFD2), Read: true, Source: SourceStatic,
		Value: []byte{0x88, 0xB4, 0x36, 0x86, 0x18, 0x4E, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
	Characteristic{Endpoint: EndpointLink3FFD3, Service: ServiceLink3Info, UUID: vendorUUID(0xFFD3), Read: true, Source: SourceNotFound},
	Characteristic{Endpoint: EndpointLink3FFD4, Service: ServiceLink3Info, UUID: vendorUUID(0xFFD4), Read: true, Source: SourceNotFound},
	Characteristic{Endpoint: EndpointLink3FFF1, Service: ServiceLink3Info, UUID: vendorUUID(0xFFF1), Read: true, Notify: true, Source: SourceStatus},
	Characteristic{Endpoint: EndpointLink3FFE0, Service: ServiceLink3Info, UUID: vendorUUID(0xFFE0), Read: true, Source: SourceStatic,
		Value: []byte{
			0x00, 0x00, 0x00, 0x00, 0x02, 0x40, 0x25, 0x00,
			0x02, 0x00, 0xE0, 0xEE, 0x33, 0x65, 0x00, 0x00,
			0x33, 0x65, 0x00, 0x00,
		}},
	Characteristic{Endpoint: EndpointLink3FFE1, Service: ServiceLink3Info, UUID: vendorUUID(0xFFE1), Read: true, Source: SourceStatic,
		Value: []byte{0xCE, 0x63, 0x00, 0x00, 0x12, 0x00, 0x00, 0x01}},
	Characteristic{Endpoint: EndpointLink3FFF3, Service: ServiceLink3Info, UUID: vendorUUID(0xFFF3), Read: true, Source: SourceStatic,
		Value: []byte{0x10, 0x00}},
	Characteristic{Endpoint: EndpointLink3FFF4, Service: ServiceLink3Info, UUID: vendorUUID(0xFFF4), Read: true, Source: SourceStatic,
		Value: []byte{
			0x00, 0x30, 0x00, 0x00, 0x00, 0xC0, 0x01, 0x00,
			0x00, 0xF0, 0x04, 0x00, 0x00, 0xB0, 0x00, 0x00,
			0x00, 0x50, 0x01, 0x00,
		}},
	Characteristic{Endpoint: EndpointLink3FFF5, Service: ServiceLink3Info, UUID: vendorUUID(0xFFF5), Read: true, Source: SourceStatic,
		Value: []byte{0x00, 0x30, 0x00, 0x00, 0x00, 0x40, 0x01, 0x00}},
	Characteristic{Endpoint: EndpointLink3Control, Service: ServiceLink3Status, UUID: vendorUUID(0x6387), Read: true, Write: true, Source: SourceStatic,
		Value: []byte{0x00, 0x00, 0x00, 0x00}},
	Characteristic{Endpoint: EndpointLink3Status, Service: ServiceLink3Status, UUID: vendorUUID(0x6487), Notify: true},
)

var wideCharacteristics = append(append([]Characteristic(nil), primaryCharacteristics...),
	Characteristic{Endpoint: EndpointWideFFE1, Service: ServiceWide, UUID: vendorUUID(0xFFE1), Read: true, Write: true, Notify: true,
		Source: SourceStatus, NotifyOnWrite: true, StatusTracksBusy: true},
	Characteristic{Endpoint: EndpointWideFFE9, Service: ServiceWide, UUID: vendorUUID(0xFFE9), Write: true},
	Characteristic{Endpoint: EndpointWideFFEA, Service: ServiceWide, UUID: vendorUUID(0xFFEA), Read: true, Notify: true, Source: SourceStatic,
		Value:             []byte{0x02, 0x09, 0xB9, 0x00, 0x11, 0x01, 0x00, 0x80, 0x84, 0x1E, 0x00},
		NotifyOnSubscribe: true},
)

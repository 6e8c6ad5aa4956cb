package epd

// SSD1680 opcodes used by this driver.
const (
	driverOutputControl            byte = 0x01
	deepSleepMode                  byte = 0x10
	dataEntryModeSetting           byte = 0x11
	tempSensorSelect               byte = 0x18
	masterActivation               byte = 0x20
	displayUpdateControl1          byte = 0x21
	displayUpdateControl2          byte = 0x22
	writeRAMBW                     byte = 0x24
	writeLutRegister               byte = 0x32
	borderWaveformControl          byte = 0x3C
	setRAMXAddressStartEndPosition byte = 0x44
	setRAMYAddressStartEndPosition byte = 0x45
	setRAMXAddressCounter          byte = 0x4E
	setRAMYAddressCounter          byte = 0x4F
)

// command is one opcode with its parameter bytes.
type command struct {
	op     byte
	params []byte
}

// initSequence runs once after every hardware reset. It hard-codes the
// 128x296 panel, Y-decrement/X-increment addressing and the internal
// temperature sensor.
var initSequence = []command{
	{driverOutputControl, []byte{0x27, 0x01, 0x01}},
	{borderWaveformControl, []byte{0x05}},
	{displayUpdateControl1, []byte{0x00, 0x80}},
	{tempSensorSelect, []byte{0x80}},
	{dataEntryModeSetting, []byte{0x01}},
	{setRAMXAddressStartEndPosition, []byte{0x00, 0x0F}},
	{setRAMYAddressStartEndPosition, []byte{0x27, 0x01, 0x00, 0x00}},
	{setRAMXAddressCounter, []byte{0x00}},
	{setRAMYAddressCounter, []byte{0x27, 0x01}},
}

// burstLimit is the largest payload sent in one write. The spidev default
// buffer is 4096 bytes; the RAM write is split below that.
const burstLimit = 4000

// deepSleepMode1 retains RAM.
const deepSleepMode1 byte = 0x01

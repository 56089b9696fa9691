package protocol

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func TestDecodeNodeAttached(t *testing.T) {
	assert.Equal(t, NodeAttached{NodeID: 7}, Decode("NODE|07"))
	assert.Equal(t, NodeAttached{NodeID: 25}, Decode("NODE|25"))
	assert.Equal(t, Unrecognized{Line: "NODE|x1"}, Decode("NODE|x1"))
	assert.Equal(t, Unrecognized{Line: "NODE|"}, Decode("NODE|"))
}

func TestDecodeRelayerError(t *testing.T) {
	assert.Equal(t, RelayerError{Message: "disk full"}, Decode("ERROR:disk full"))
	assert.Equal(t, RelayerError{Message: ""}, Decode("ERROR:"))
}

func TestDecodeTooFewFields(t *testing.T) {
	for _, line := range []string{"", "hello", "03|02|123", "03|02"} {
		_, ok := Decode(line).(Unrecognized)
		assert.True(t, ok, line)
	}
}

func TestDecodeBadHeader(t *testing.T) {
	for _, line := range []string{"a3|02|1|5", "03|b2|1|5", "03|02|x1|5", "003|02|1|5"} {
		_, ok := Decode(line).(Unrecognized)
		assert.True(t, ok, line)
	}
}

func TestDecodeDeviceSample(t *testing.T) {
	ev := Decode("03|02|123456|-12.5")

	sample, ok := ev.(DeviceSample)
	require.True(t, ok)
	assert.Equal(t, 3, sample.NodeID)
	assert.Equal(t, 2, sample.DeviceID)
	assert.Equal(t, "123456", sample.Timestamp.String())
	assert.Equal(t, "-12.5", sample.Value)
}

func TestDecodeSampleKeepsLargeTimestamp(t *testing.T) {
	// 2^53 + 1 is the first integer a float64 cannot hold.
	ev := Decode("01|00|9007199254740993|42")

	sample, ok := ev.(DeviceSample)
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", sample.Timestamp.String())
	assert.Equal(t, 0, ts(t, "9007199254740993").Cmp(sample.Timestamp))
}

func TestDecodeValueWithSeparators(t *testing.T) {
	ev := Decode("03|02|99|12|34|56")

	sample, ok := ev.(DeviceSample)
	require.True(t, ok)
	assert.Equal(t, "12|34|56", sample.Value)
}

func TestDecodeNodeInfo(t *testing.T) {
	ev := Decode("03|00|1000|NOINFO=Garage|2.1|A0:B1:C2:D3:E4:F5|4")

	assert.Equal(t, NodeInfo{
		Header:      Header{NodeID: 3, DeviceID: 0, Timestamp: ts(t, "1000")},
		Name:        "Garage",
		Version:     "2.1",
		Address:     "A0:B1:C2:D3:E4:F5",
		DeviceCount: 4,
	}, ev)
}

func TestDecodeDeviceInfo(t *testing.T) {
	ev := Decode("03|02|123456|DEINFO=Temp|1.0|Y|N|3600")

	assert.Equal(t, DeviceInfo{
		Header:           Header{NodeID: 3, DeviceID: 2, Timestamp: ts(t, "123456")},
		Name:             "Temp",
		Version:          "1.0",
		ImmediateEnabled: true,
		PeriodicEnabled:  false,
		Rate:             3600,
	}, ev)
}

func TestDecodeDeviceInfoTrailingSeparator(t *testing.T) {
	ev := Decode("03|02|1|DEINFO=Temp|1.0|N|Y|60|")

	info, ok := ev.(DeviceInfo)
	require.True(t, ok)
	assert.False(t, info.ImmediateEnabled)
	assert.True(t, info.PeriodicEnabled)
	assert.Equal(t, 60, info.Rate)
}

func TestDecodeShortInfoPayloads(t *testing.T) {
	for _, line := range []string{"03|00|1|NOINFO=Garage|2.1", "03|02|1|DEINFO=Temp|1.0|Y"} {
		_, ok := Decode(line).(Unrecognized)
		assert.True(t, ok, line)
	}
}

func TestDecodeKeyedPayloads(t *testing.T) {
	h := func(node, dev int) Header {
		return Header{NodeID: node, DeviceID: dev, Timestamp: big.NewInt(5)}
	}

	tests := []struct {
		line string
		want Event
	}{
		{"01|00|5|NONAME=Porch", NodeRenamed{Header: h(1, 0), Name: "Porch"}},
		{"01|04|5|DENAME=Light", DeviceRenamed{Header: h(1, 4), Name: "Light"}},
		{"01|04|5|RATE=120", RateChanged{Header: h(1, 4), Rate: 120}},
		{"01|04|5|IP Enabled", ImmediateToggled{Header: h(1, 4), Enabled: true}},
		{"01|04|5|IP Disabled", ImmediateToggled{Header: h(1, 4), Enabled: false}},
		{"01|04|5|PP Enabled", PeriodicToggled{Header: h(1, 4), Enabled: true}},
		{"01|04|5|PP Disabled", PeriodicToggled{Header: h(1, 4), Enabled: false}},
		{"01|00|5|NVER=3.0", VersionChanged{Header: h(1, 0), Scope: NodeScope, Version: "3.0"}},
		{"01|04|5|DVER=1.2", VersionChanged{Header: h(1, 4), Scope: DeviceScope, Version: "1.2"}},
		{"01|00|5|FILES=a.txt|b.txt", FileList{Header: h(1, 0), Entries: "a.txt|b.txt"}},
		{"01|00|5|FILE=hello", FileContents{Header: h(1, 0), Contents: "hello"}},
		{"01|04|5|ERROR=sensor offline", DeviceError{Header: h(1, 4), Message: "sensor offline"}},
		{"01|00|5|PONG", Pong{Header: h(1, 0)}},
		{"01|04|5|IP Performed", Unrecognized{Line: "01|04|5|IP Performed"}},
		{"01|04|5|RATE=fast", Unrecognized{Line: "01|04|5|RATE=fast"}},
		{"01|04|5|", Unrecognized{Line: "01|04|5|"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.line))
		})
	}
}

func TestEncode(t *testing.T) {
	line, err := Encode(Command{NodeID: 3, DeviceID: 2, Opcode: "SRAT", Params: "3600"})
	require.NoError(t, err)
	assert.Equal(t, "03|02|SRAT|3600\n", line)

	line, err = Encode(Command{NodeID: 3, DeviceID: 2, Opcode: "PING"})
	require.NoError(t, err)
	assert.Equal(t, "03|02|PING\n", line)
}

func TestEncodePadsAndTruncatesOpcode(t *testing.T) {
	line, err := Encode(Command{NodeID: 0, DeviceID: 0, Opcode: "GO"})
	require.NoError(t, err)
	assert.Equal(t, "00|00|GO  \n", line)

	line, err = Encode(Command{NodeID: 19, DeviceID: 99, Opcode: "TOOLONG", Params: "x"})
	require.NoError(t, err)
	assert.Equal(t, "19|99|TOOL|x\n", line)
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	_, err := Encode(Command{NodeID: 20, Opcode: "PING"})
	assert.ErrorIs(t, err, ErrNodeOutOfRange)

	_, err = Encode(Command{NodeID: 1, DeviceID: 100, Opcode: "PING"})
	assert.ErrorIs(t, err, ErrDeviceOutOfRange)

	_, err = Encode(Command{NodeID: -1, Opcode: "PING"})
	assert.ErrorIs(t, err, ErrNodeOutOfRange)

	_, err = Encode(Command{NodeID: 1})
	assert.ErrorIs(t, err, ErrInvalidOpcode)
}

func TestCommandConstructors(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{GetNodeInfo(4), "04|00|GNOI\n"},
		{GetDeviceInfo(4), "04|00|GDEI\n"},
		{Ping(12), "12|00|PING\n"},
		{SetNodeName(1, "Shed"), "01|00|SNNA|Shed\n"},
		{SetDeviceName(1, 3, "Fan"), "01|03|SDNA|Fan\n"},
		{SetRate(3, 2, 3600), "03|02|SRAT|3600\n"},
		{SetImmediate(3, 2, true), "03|02|ENIP\n"},
		{SetImmediate(3, 2, false), "03|02|DIIP\n"},
		{SetPeriodic(3, 2, true), "03|02|ENPP\n"},
		{SetPeriodic(3, 2, false), "03|02|DIPP\n"},
		{SystemInfo(), "00|00|SYSI\n"},
		{GetFileList("/data", "csv"), "00|00|GFLI|/data|csv\n"},
	}

	for _, tt := range tests {
		line, err := Encode(tt.cmd)
		require.NoError(t, err)
		assert.Equal(t, tt.want, line)
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "03|02|SRAT|10", SetRate(3, 2, 10).String())
	assert.Contains(t, Command{NodeID: 50, Opcode: "PING"}.String(), "invalid command")
}

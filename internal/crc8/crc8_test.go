package crc8

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumDiscoverFrame(t *testing.T) {
	// 7F 3C A5 -> 57, taken from the discover request/reply pair.
	got := Checksum([]byte{0x7F, 0x3C, 0xA5})
	assert.EqualValues(t, 0x57, got)
}

func TestChecksumClearFaultsFrames(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"select-alert", []byte{0x7F, 0x20, 0xFF}, 0x7D},
		{"clear-alert", []byte{0x7F, 0x20, 0x00}, 0x8E},
		{"select-fault", []byte{0x7F, 0x21, 0xFF}, 0x68},
		{"clear-fault", []byte{0x7F, 0x21, 0x00}, 0x9B},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualValues(t, tt.want, Checksum(tt.data))
		})
	}
}

func TestUpdateIsIncremental(t *testing.T) {
	data := []byte{0x02, 0x01, 0x12, 0x20, 0x67}
	var c CRC8
	for _, b := range data {
		c.Update(b)
	}
	assert.Equal(t, Checksum(data), byte(c))
}

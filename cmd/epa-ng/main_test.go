package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMemoryBudget(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"auto", -1, false},
		{"512M", 512 << 20, false},
		{"12G", 12 << 30, false},
		{"bogus", 0, true},
	}
	for _, test := range tests {
		got, err := parseMemoryBudget(test.in)
		if test.wantErr {
			assert.Error(t, err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, test.want, got)
	}
}

func TestSlottableCLVCountDisabledAtZeroBudget(t *testing.T) {
	assert.Equal(t, 0, slottableCLVCount(0, 20, 500, 4))
}

func TestSlottableCLVCountNeverBelowReserve(t *testing.T) {
	// A tiny budget still has to cover the §4.4 lower bound, or
	// partial_compute_clvs could never finish a request.
	got := slottableCLVCount(1, 20, 500, 4)
	assert.GreaterOrEqual(t, got, 7) // ceil(log2(20))+2 == 7
}

func TestSlottableCLVCountScalesWithBudget(t *testing.T) {
	sites, states := 500, 4
	bytesPerCLV := int64(sites * states * 8)
	got := slottableCLVCount(bytesPerCLV*100, 20, sites, states)
	assert.Equal(t, 100, got)
}

func TestSlottableCLVCountAutoUsesReserveMultiple(t *testing.T) {
	assert.Equal(t, 28, slottableCLVCount(-1, 20, 500, 4)) // reserve(7) * 4
}

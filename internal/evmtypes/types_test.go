// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package evmtypes

import "testing"

func TestParseHash(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"with prefix", "0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f", false},
		{"without prefix", "3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f", false},
		{"too short", "0x1234", true},
		{"not hex", "0xzz67048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := ParseHash(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.IsZero() {
				t.Fatalf("expected non-zero hash")
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.String() != "0xc36442b4a4522e871399cd717abdd847ab11fe88" {
		t.Fatalf("unexpected string form: %s", a.String())
	}

	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for short address")
	}
}

func TestMustParseHashPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on invalid hash")
		}
	}()
	MustParseHash("not-hex")
}

func TestZeroValues(t *testing.T) {
	var h Hash
	var a Address
	if !h.IsZero() {
		t.Fatalf("zero-value Hash should report IsZero")
	}
	if !a.IsZero() {
		t.Fatalf("zero-value Address should report IsZero")
	}
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
)

func TestDefaultNFPMAddress(t *testing.T) {
	addr, err := DefaultNFPMAddress(Ethereum)
	require.NoError(t, err)
	require.False(t, addr.IsZero())

	addr2, err := DefaultNFPMAddress(Arbitrum)
	require.NoError(t, err)
	require.Equal(t, addr, addr2)

	_, err = DefaultNFPMAddress(Base)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	nfpm := evmtypes.MustParseAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")
	valid := Config{
		ID:          Ethereum,
		Endpoint:    "https://api.example.com",
		SafetyLag:   64,
		WindowDepth: 64,
		MaxRange:    1000,
		NFPMAddress: nfpm,
	}
	require.NoError(t, valid.Validate())

	t.Run("unknown chain", func(t *testing.T) {
		c := valid
		c.ID = "polygon"
		require.Error(t, c.Validate())
	})

	t.Run("missing endpoint", func(t *testing.T) {
		c := valid
		c.Endpoint = ""
		require.Error(t, c.Validate())
	})

	t.Run("safetyLag below windowDepth", func(t *testing.T) {
		c := valid
		c.SafetyLag = 10
		c.WindowDepth = 64
		require.Error(t, c.Validate())
	})

	t.Run("zero maxRange", func(t *testing.T) {
		c := valid
		c.MaxRange = 0
		require.Error(t, c.Validate())
	})

	t.Run("zero nfpm address", func(t *testing.T) {
		c := valid
		c.NFPMAddress = evmtypes.Address{}
		require.Error(t, c.Validate())
	})
}

func TestKnown(t *testing.T) {
	require.True(t, Known(Ethereum))
	require.True(t, Known(Arbitrum))
	require.True(t, Known(Base))
	require.False(t, Known(ID("polygon")))
}

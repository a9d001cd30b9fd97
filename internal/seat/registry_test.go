package seat

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/core"
)

func TestRegistry_StartsEmpty(t *testing.T) {
	r := NewRegistry()
	s := r.Get("HSI", core.DirectionLong)
	assert.Equal(t, core.SeatEmpty, s.Status)
	assert.Equal(t, int64(0), s.Version)
}

func TestRegistry_AdoptBumpsVersionAndSetsReady(t *testing.T) {
	r := NewRegistry()
	r.StartSearching("HSI", core.DirectionLong, 1000)
	s := r.Adopt("HSI", core.DirectionLong, "12345", "HSI Call Warrant", decimal.NewFromInt(20000), 2000)

	assert.Equal(t, core.SeatReady, s.Status)
	assert.Equal(t, "12345", s.Symbol)
	assert.Equal(t, int64(1), s.Version)
	assert.True(t, s.IsUsableForTrading())
}

func TestRegistry_FreezeClearsSymbolAndBumpsVersion(t *testing.T) {
	r := NewRegistry()
	r.Adopt("HSI", core.DirectionLong, "12345", "name", decimal.NewFromInt(100), 1000)
	frozen := r.Freeze("HSI", core.DirectionLong, "2026-07-30")

	assert.Equal(t, core.SeatEmpty, frozen.Status)
	assert.Equal(t, "", frozen.Symbol)
	assert.Equal(t, "2026-07-30", frozen.FrozenTradingDayKey)
	assert.Equal(t, int64(2), frozen.Version)
	assert.False(t, frozen.IsUsableForTrading())
}

func TestRegistry_RecordSearchFailureIncrements(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 1, r.RecordSearchFailure("HSI", core.DirectionLong))
	assert.Equal(t, 2, r.RecordSearchFailure("HSI", core.DirectionLong))
}

func TestRegistry_IsStaleAfterSwitch(t *testing.T) {
	r := NewRegistry()
	s := r.Adopt("HSI", core.DirectionLong, "A", "name", decimal.NewFromInt(1), 1000)
	require.False(t, r.IsStale("HSI", core.DirectionLong, s.Version))

	r.Adopt("HSI", core.DirectionLong, "B", "name2", decimal.NewFromInt(1), 2000)
	assert.True(t, r.IsStale("HSI", core.DirectionLong, s.Version))
}

func TestRegistry_ClearResetsEverything(t *testing.T) {
	r := NewRegistry()
	r.Adopt("HSI", core.DirectionLong, "A", "name", decimal.NewFromInt(1), 1000)
	r.RecordSearchFailure("HSI", core.DirectionLong)

	cleared := r.Clear("HSI", core.DirectionLong)
	assert.Equal(t, core.SeatEmpty, cleared.Status)
	assert.Equal(t, 0, cleared.SearchFailCountToday)
}

func TestRegistry_ResetDailyFailuresKeepsSymbol(t *testing.T) {
	r := NewRegistry()
	r.Adopt("HSI", core.DirectionLong, "A", "name", decimal.NewFromInt(1), 1000)
	r.RecordSearchFailure("HSI", core.DirectionLong)
	r.ResetDailyFailures("HSI", core.DirectionLong)

	s := r.Get("HSI", core.DirectionLong)
	assert.Equal(t, "A", s.Symbol)
	assert.Equal(t, 0, s.SearchFailCountToday)
	assert.Equal(t, "", s.FrozenTradingDayKey)
}

func TestRegistry_GetAllReturnsBothDirections(t *testing.T) {
	r := NewRegistry()
	r.Adopt("HSI", core.DirectionLong, "A", "name", decimal.NewFromInt(1), 1000)
	r.Adopt("HSI", core.DirectionShort, "B", "name2", decimal.NewFromInt(1), 1000)

	all := r.GetAll("HSI")
	assert.Len(t, all, 2)
	assert.Equal(t, "A", all[core.DirectionLong].Symbol)
	assert.Equal(t, "B", all[core.DirectionShort].Symbol)
}

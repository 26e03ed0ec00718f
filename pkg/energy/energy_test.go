package energy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacetimedb/core/pkg/abi"
)

func TestChargeDeductsFromRemaining(t *testing.T) {
	b := NewBudget(100, nil)
	require.NoError(t, b.Charge(30))
	require.Equal(t, Units(70), b.Remaining())
	require.Equal(t, Units(30), b.Spent())
}

func TestChargeBeyondQuotaReturnsExceededAndClampsAtZero(t *testing.T) {
	b := NewBudget(10, nil)
	require.NoError(t, b.Charge(7))
	err := b.Charge(5)
	require.ErrorIs(t, err, ErrExceeded)
	require.Equal(t, Units(0), b.Remaining())
	require.Equal(t, Units(10), b.Spent())
}

func TestChargeSyscallUsesTableCost(t *testing.T) {
	table := Table{"datastore_table_scan_bsatn": 4}
	b := NewBudget(10, table)
	require.NoError(t, b.ChargeSyscall("datastore_table_scan_bsatn"))
	require.Equal(t, Units(6), b.Remaining())
}

func TestChargeSyscallFallsBackToDefaultCost(t *testing.T) {
	b := NewBudget(10, Table{})
	require.NoError(t, b.ChargeSyscall("console_log"))
	require.Equal(t, Units(9), b.Remaining())
}

func TestDefaultTableCoversEveryMajorVersionOneSyscall(t *testing.T) {
	table := DefaultTable()
	for _, name := range abi.DefaultRegistry.Syscalls(1) {
		require.Contains(t, table, name)
		require.Greater(t, int64(table.Cost(name)), int64(0))
	}
}

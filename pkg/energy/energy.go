// Package energy implements the reducer-call energy/quota accounting
// model (§4.7 "energy accounting"): every reducer call is granted a
// fixed budget of energy units, and every ABI syscall it performs is
// charged against that budget so a runaway or looping reducer is bounded
// rather than allowed to run forever. The scheme is this repository's
// own — the specification requires that calls be boundable but leaves
// the concrete unit and per-syscall weights unspecified (§9).
package energy

import "errors"

// ErrExceeded is returned by Budget.Charge once a call has spent its
// entire energy quota.
var ErrExceeded = errors.New("energy: budget exceeded")

// Units is an energy amount in this repository's own accounting unit; it
// carries no real-world currency or wall-clock meaning.
type Units int64

// DefaultCost is charged for any syscall absent from a Table.
const DefaultCost Units = 1

// Table maps an ABI syscall name (§4.9, see abi.DefaultRegistry) to its
// cost in Units. host.Config carries the Table a Host charges against,
// and pkg/config parses one from a replica's host section; replica.Manager
// launches every Host with host.DefaultConfig(), so a configured Table is
// not applied to the hosts it launches.
type Table map[string]Units

// Cost returns the cost assigned to syscall, or DefaultCost if the table
// does not mention it.
func (t Table) Cost(syscall string) Units {
	if c, ok := t[syscall]; ok {
		return c
	}
	return DefaultCost
}

// DefaultTable assigns the major-version-1 syscalls of abi.DefaultRegistry
// a cost proportional to how much work they can do per call: scans and
// range deletes that can touch many rows cost more than a single point
// lookup or insert.
func DefaultTable() Table {
	return Table{
		"table_id_from_name":                          1,
		"index_id_from_name":                           1,
		"datastore_table_row_count":                    1,
		"datastore_table_scan_bsatn":                    4,
		"datastore_index_scan_range_bsatn":              4,
		"datastore_index_scan_point_bsatn":               2,
		"row_iter_bsatn_advance":                        2,
		"row_iter_bsatn_close":                          1,
		"datastore_insert_bsatn":                        2,
		"datastore_update_bsatn":                        2,
		"datastore_delete_by_index_scan_range_bsatn":     3,
		"datastore_delete_by_index_scan_point_bsatn":     2,
		"datastore_delete_all_by_eq_bsatn":               3,
		"volatile_nonatomic_schedule_immediate":          1,
		"console_log":                                   1,
		"console_timer_start":                           1,
		"console_timer_end":                             1,
		"identity":                                      1,
	}
}

// Budget tracks the energy units available to one reducer call.
type Budget struct {
	table     Table
	quota     Units
	remaining Units
}

// NewBudget seeds a Budget with quota energy units, charged against
// table's per-syscall costs. A nil table falls back to DefaultCost for
// every syscall.
func NewBudget(quota Units, table Table) *Budget {
	return &Budget{table: table, quota: quota, remaining: quota}
}

// Charge deducts a flat number of units from the remaining balance,
// returning ErrExceeded once the balance would go negative. The balance
// clamps at zero so Spent never exceeds the original quota.
func (b *Budget) Charge(units Units) error {
	if units > b.remaining {
		b.remaining = 0
		return ErrExceeded
	}
	b.remaining -= units
	return nil
}

// ChargeSyscall charges whatever cost this Budget's Table assigns to
// syscall.
func (b *Budget) ChargeSyscall(syscall string) error {
	return b.Charge(b.table.Cost(syscall))
}

// Remaining reports the unspent balance.
func (b *Budget) Remaining() Units { return b.remaining }

// Spent reports how much of the original quota has been consumed.
func (b *Budget) Spent() Units { return b.quota - b.remaining }

package abi

import (
	"fmt"
	"sort"
)

// Version is an ABI major.minor pair. Versioning is per-module: a module
// declares the major version it binds to at load, and the host wires only
// the syscalls registered for that major version (§4.9). Minor versions
// are purely additive within a major version.
type Version struct {
	Major uint16
	Minor uint16
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Registry maps an ABI major version to the set of syscall names wired
// for it. Adding a new major version is additive: existing callers bound
// to an older major version keep seeing exactly the syscalls registered
// for it, even after a newer major version is registered.
type Registry struct {
	byMajor map[uint16]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{byMajor: make(map[uint16]map[string]struct{})}
}

// Register adds syscalls to the set wired for major. Safe to call
// incrementally at package-init time from multiple syscall groups.
func (r *Registry) Register(major uint16, syscalls ...string) {
	set, ok := r.byMajor[major]
	if !ok {
		set = make(map[string]struct{})
		r.byMajor[major] = set
	}
	for _, s := range syscalls {
		set[s] = struct{}{}
	}
}

// Supports reports whether syscall is wired for the given major version.
func (r *Registry) Supports(major uint16, syscall string) bool {
	set, ok := r.byMajor[major]
	if !ok {
		return false
	}
	_, ok = set[syscall]
	return ok
}

// Syscalls returns every syscall name wired for major, in sorted order.
func (r *Registry) Syscalls(major uint16) []string {
	set, ok := r.byMajor[major]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry is the ABI major version 1 surface: the syscall names
// listed in §4.9's required-syscalls table. Major version 2 adds only
// "views_scan_bsatn" (views, ABI >= 1.1 per §6's describe_module schema,
// promoted to its own major version here since this repository treats
// views as a separate wired capability rather than a minor-version flag).
var DefaultRegistry = buildDefaultRegistry()

func buildDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(1,
		"table_id_from_name", "index_id_from_name",
		"datastore_table_row_count",
		"datastore_table_scan_bsatn",
		"datastore_index_scan_range_bsatn", "datastore_index_scan_point_bsatn",
		"row_iter_bsatn_advance", "row_iter_bsatn_close",
		"datastore_insert_bsatn", "datastore_update_bsatn",
		"datastore_delete_by_index_scan_range_bsatn",
		"datastore_delete_by_index_scan_point_bsatn",
		"datastore_delete_all_by_eq_bsatn",
		"volatile_nonatomic_schedule_immediate",
		"console_log", "console_timer_start", "console_timer_end",
		"identity",
	)
	r.Register(2, r.Syscalls(1)...)
	r.Register(2, "views_scan_bsatn")
	return r
}

package abi

import "github.com/spacetimedb/core/pkg/algebra"

// ReducerLifecycle marks a reducer as one of the special lifecycle hooks
// the host invokes automatically rather than on client request.
type ReducerLifecycle uint8

const (
	LifecycleNone ReducerLifecycle = iota
	LifecycleInit
	LifecycleClientConnected
	LifecycleClientDisconnected
	LifecycleUpdate
)

// ScheduleDesc mirrors catalog.ScheduleSpec in describe_module's wire
// form: the schedule_at column index and the reducer it invokes.
type ScheduleDesc struct {
	Column      uint32
	ReducerName string
}

// TableDesc is one entry of describe_module's "tables" array.
type TableDesc struct {
	Name           string
	ProductTypeRef uint32
	Indexes        []IndexDesc
	Constraints    []ConstraintDesc
	Sequences      []SequenceDesc
	Access         uint8 // 0 = Public, 1 = Private
	Schedule       *ScheduleDesc
}

type IndexDesc struct {
	Name    string
	Columns []uint32
	Unique  bool
}

type ConstraintDesc struct {
	Name    string
	Kind    uint8
	Columns []uint32
}

type SequenceDesc struct {
	Column    uint32
	Start     int64
	Increment int64
	Min       int64
	Max       int64
}

// ReducerDesc is one entry of describe_module's "reducers" array.
type ReducerDesc struct {
	Name           string
	ArgsProductRef uint32
	Lifecycle      ReducerLifecycle
}

// ViewDesc is one entry of the optional "views" array (ABI >= 1.1 / major
// version 2 in this repository's Registry).
type ViewDesc struct {
	Name           string
	ProductTypeRef uint32
}

// ModuleDescription is the full decoded result of describe_module: the
// module's typespace, its table/reducer/view catalogue, and the ABI
// version it was compiled against.
type ModuleDescription struct {
	Typespace algebra.Typespace
	Tables    []TableDesc
	Reducers  []ReducerDesc
	Views     []ViewDesc
	Version   Version
}

// ReducerByName returns the reducer descriptor with the given name.
func (m ModuleDescription) ReducerByName(name string) (ReducerDesc, bool) {
	for _, r := range m.Reducers {
		if r.Name == name {
			return r, true
		}
	}
	return ReducerDesc{}, false
}

// LifecycleReducer returns the reducer bound to the given lifecycle hook,
// if the module declared one.
func (m ModuleDescription) LifecycleReducer(l ReducerLifecycle) (ReducerDesc, bool) {
	for _, r := range m.Reducers {
		if r.Lifecycle == l {
			return r, true
		}
	}
	return ReducerDesc{}, false
}

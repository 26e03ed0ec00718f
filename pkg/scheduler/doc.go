/*
Package scheduler fires reducer calls bound to scheduled-table rows.

A table with a schedule_at column (§4.1: sum of Time(instant) or
Interval(duration)) drives an in-memory min-heap keyed by next-fire-time.
Engine.CommitResult reports ScheduledInserts/ScheduledDeletes for every
write to such a table; the replica forwards those to Scheduler.Enqueue
and Scheduler.Cancel so the heap and the committed table state never
drift apart. A fired Interval entry re-enqueues itself from the firing
time rather than the original target, so a slow reducer does not cause
firings to bunch up.
*/
package scheduler

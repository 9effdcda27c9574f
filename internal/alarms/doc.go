// Package alarms schedules named one-shot timers.
//
// A Scheduler holds at most one pending timer per name; scheduling a name
// again replaces the earlier timer. Fired names are delivered to the single
// Handler the scheduler was built with. Retry alarms use the
// "repeat-download-<loadItemId>-<fileId>" naming produced by RetryAlarmName.
package alarms

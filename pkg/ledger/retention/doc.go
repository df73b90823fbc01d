// Package retention prunes old ledger entries.
//
// A Pruner deletes entries older than the configured number of days and,
// when a maximum entry count is set, the oldest entries beyond it. A
// Scheduler runs the pruner on a cron schedule:
//
//	ledger:
//	  retention:
//	    days: 30
//	    max_entries: 1000000
//	    prune_schedule: "0 3 * * *"   # daily at 03:00
package retention

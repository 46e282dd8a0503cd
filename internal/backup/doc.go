// Package backup produces one durable backup artifact per run of a schedule.
//
// The Executor connects to the target database, lists its tables and streams
// schema and data into a SQL dump without materialising result sets. In
// external tool mode it copies the output of mysqldump instead. The finished
// dump is optionally archived, old artifacts are pruned by the schedule's
// retention count, and the final artifact is hashed and, when configured,
// copied to offsite storage.
//
// Every table and row batch boundary is a checkpoint: a canceled context ends
// the run with a canceled error and a paused token blocks until resumed.
// Partial artifacts of failed or canceled runs stay on disk.
//
// Example usage:
//
//	executor := backup.NewExecutor(database.NewService(), logger, backup.DefaultOptions())
//	result, err := executor.Execute(ctx, target, sched, func(p backup.Progress) {
//		monitor.UpdateProgress(taskID, toMonitorProgress(p))
//	}, token)
//	if errors.IsCanceled(err) {
//		// recorded as canceled, not as a failure
//	}
package backup

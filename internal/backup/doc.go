// Package backup implements the scheduled backup engine.
//
// A Manager owns one backup directory. At startup it restores every archive
// found there through the registered contributors, then checks its rules on a
// fixed persist interval. A rule that is due gets a new archive named
//
//	backup-<rule prefix><yyyy-MM-dd_HH-mm-ss>.zip
//
// and its oldest archives beyond the rule's version limit are removed. While a
// cycle runs, the directory holds a running.lock marker. When the worker is
// stopped a final cycle backs up every rule regardless of its interval.
package backup

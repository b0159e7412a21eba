package operations

import (
	"context"
	"errors"
)

// ErrNothingToRestore is returned by RestoreAll when the backup directory
// holds no readable archive.
var ErrNothingToRestore = errors.New("no backup archive to restore")

// RestoreAll feeds every archive in the backup directory, oldest first, to
// the contributors. It returns the number of archives loaded.
func (o *Operator) RestoreAll(ctx context.Context) (int, error) {
	n := o.manager.Load(ctx)
	if n == 0 {
		return 0, ErrNothingToRestore
	}
	return n, nil
}

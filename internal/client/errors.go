package client

import "errors"

var ErrSnapshotStrategyMissing = errors.New("snapshot received with no snapshot strategy")

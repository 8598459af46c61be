// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMemory is returned for empty content or an unknown type or importance
	ErrInvalidMemory = errors.New("invalid memory")
	// ErrInvalidRecord is returned for malformed emotion or relationship input
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotFound is returned when the target row does not exist for the user
	ErrNotFound = errors.New("memory not found")
)

// WriteError reports a failed write. The operation's transaction has been
// rolled back by the time the caller sees it.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("memory store %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

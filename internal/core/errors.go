// SPDX-License-Identifier: LGPL-3.0-or-later

package core

import "fmt"

// ResourceError reports a failed access to a channel or other resource.
type ResourceError struct {
	ID  string
	Err error
}

func (e *ResourceError) Error() string {
	if e.ID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("resource %s: %v", e.ID, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// UnavailableError reports a configured resource that cannot be found.
type UnavailableError struct {
	ID string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("resource %s not available", e.ID)
}

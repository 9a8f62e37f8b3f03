/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package filecoord

import (
	"errors"
	"fmt"
)

// Kind tags the operation a file error came from.
type Kind int

const (
	KindCoordination Kind = iota + 1
	KindRead
	KindWrite
	KindDelete
	KindMove
	KindTrash
	KindCreateDirectory
	KindEvict
)

func (k Kind) String() string {
	switch k {
	case KindCoordination:
		return "coordination"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindDelete:
		return "delete"
	case KindMove:
		return "move"
	case KindTrash:
		return "trash"
	case KindCreateDirectory:
		return "create directory"
	case KindEvict:
		return "evict"
	default:
		return "unknown"
	}
}

// OpError wraps the platform error of a failed coordinated operation.
type OpError struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s (%s failed): %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(kind Kind, op, path string, err error) error {
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of err, or 0 when err is not an *OpError.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return 0
}

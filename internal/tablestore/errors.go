package tablestore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned for an empty or malformed client name or partition key.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSchema is matched by *SchemaError.
	ErrSchema = errors.New("schema error")

	// ErrStorageIO covers failures opening, writing or closing the store file.
	ErrStorageIO = errors.New("storage I/O error")

	// ErrWidthOverflow means a string is longer than the fixed width of an existing table.
	ErrWidthOverflow = fmt.Errorf("%w: string exceeds column width", ErrStorageIO)

	// ErrColumnMismatch means a batch does not fit the stored schema of an existing table.
	ErrColumnMismatch = fmt.Errorf("%w: batch does not match table schema", ErrStorageIO)

	// ErrTableNotFound is returned by the read side for an unknown table name.
	ErrTableNotFound = errors.New("table not found")
)

// SchemaError reports that a batch cannot be partitioned as requested.
type SchemaError struct {
	Column    string
	Available []string
	Reason    string
}

func (e *SchemaError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("partition column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("partition column %q not found in data columns [%s]",
		e.Column, strings.Join(e.Available, ", "))
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// TableError is the failure of one destination table within a store call.
type TableError struct {
	Table string
	Err   error
}

func (e TableError) Error() string {
	return fmt.Sprintf("append %s: %v", e.Table, e.Err)
}

func (e TableError) Unwrap() error { return e.Err }

// PartialWriteError is returned when at least one destination of a store
// call failed. Committed lists the tables whose batches were written anyway;
// those writes are not rolled back.
type PartialWriteError struct {
	Committed []string
	Failed    []TableError
}

func (e *PartialWriteError) Error() string {
	msgs := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d of %d table appends failed (%d committed): %s",
		len(e.Failed), len(e.Failed)+len(e.Committed), len(e.Committed), strings.Join(msgs, "; "))
}

func (e *PartialWriteError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/nightfall/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "failed to connect to warehouse").
		WithDetail("account", "xy12345").
		WithDetail("warehouse", "INGESTION_WH")

	fmt.Println(err.Error())

	// Output:
	// connection: failed to connect to warehouse
}

// ExampleWrap shows how fetch failures are classified.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeTransient, "failed to read rates response").
		WithDetail("source", "fx")

	fmt.Println(errors.IsRetryable(err))
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// true
	// true
}

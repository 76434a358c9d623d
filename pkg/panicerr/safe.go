package panicerr

import "github.com/sourcegraph/conc/panics"

// Safe wraps a function that returns an error, catching any panics and returning them as an error.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if r := catcher.Recovered(); r != nil {
			return r.AsError()
		}
		return err
	}
}

// Run calls fn and converts a panic into an error.
func Run(fn func() error) error {
	return Safe(fn)()
}

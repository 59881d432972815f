package helpers

// ConfigOption is implemented by the option types that a constructor accepts as varargs, such
// as harness.ServerOption or watch.Option.
type ConfigOption[T any] interface {
	// Configure applies the option to the value being built.
	Configure(*T) error
}

// ApplyOptions applies each option to target in order, stopping at the first error.
func ApplyOptions[T any, U ConfigOption[T]](target *T, options ...U) error {
	// U lets each package declare its own named option interface and still pass a slice of it.
	for _, o := range options {
		if err := o.Configure(target); err != nil {
			return err
		}
	}
	return nil
}

package assembler

import "fmt"

// ConfigurationError is the only assembler failure surfaced to callers: the
// model family has no budget, or the fixed segments (system instructions
// plus rules) alone exceed it. Not retried; fix the configuration.
type ConfigurationError struct {
	Family      string
	FixedTokens int
	Budget      int
	Err         error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model family %q: %v", e.Family, e.Err)
	}
	return fmt.Sprintf("fixed segments (%d tokens) exceed the %s context budget (%d tokens)",
		e.FixedTokens, e.Family, e.Budget)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Package message defines the call envelope exchanged with the signing bridge.
//
// A Call is flattened into positional arguments before framing: argument 0 is the
// qualified "Type::method" name and the rest are the method parameters.
package message

import "strings"

// Status is the one-byte flag that prefixes every bridge response.
type Status byte

const (
	StatusSuccess Status = 'S'
	StatusFailure Status = 'F'
)

// VoidSentinel is the success body the bridge sends when a method returns nothing.
const VoidSentinel = "N"

// MethodSeparator splits the type name from the method name.
const MethodSeparator = "::"

// Call carries a single remote invocation.
//
//   - Method: qualified name, e.g. "cfca.sadk.Kit::SignAndEncryptMessage"
//   - Params: positional parameters, in practice strings (paths, passwords, payloads)
type Call struct {
	Method string
	Params []any
}

// NewCall joins typeName and method into a qualified Call.
func NewCall(typeName, method string, params ...any) *Call {
	return &Call{Method: typeName + MethodSeparator + method, Params: params}
}

// Args flattens the call into the positional argument list the framer serializes.
func (c *Call) Args() []any {
	args := make([]any, 0, len(c.Params)+1)
	args = append(args, c.Method)
	return append(args, c.Params...)
}

// SplitMethod returns the type and method halves of a qualified name.
func SplitMethod(qualified string) (typeName, method string, ok bool) {
	typeName, method, ok = strings.Cut(qualified, MethodSeparator)
	if !ok || typeName == "" || method == "" {
		return "", "", false
	}
	return typeName, method, true
}

// Reply is a decoded bridge result. Void is set when the bridge answered with the
// "no value" sentinel, in which case Value is nil.
type Reply struct {
	Value any
	Void  bool
}

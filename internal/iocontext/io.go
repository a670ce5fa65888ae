// Package iocontext provides injectable I/O streams via context for testability.
package iocontext

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
)

// IO holds the input/output streams for commands.
type IO struct {
	Out    io.Writer // stdout
	ErrOut io.Writer // stderr
	In     io.Reader // stdin
}

// DefaultIO returns the standard IO streams.
func DefaultIO() *IO {
	return &IO{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
		In:     os.Stdin,
	}
}

// Buffers returns IO backed by in-memory buffers, with stdin reading input.
func Buffers(input string) (*IO, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &IO{Out: out, ErrOut: errOut, In: strings.NewReader(input)}, out, errOut
}

type ioKey struct{}

// WithIO adds IO streams to a context.
func WithIO(ctx context.Context, streams *IO) context.Context {
	return context.WithValue(ctx, ioKey{}, streams)
}

// GetIO retrieves IO streams from context, defaulting to standard streams.
// Nil fields fall back to their standard stream.
func GetIO(ctx context.Context) *IO {
	streams, ok := ctx.Value(ioKey{}).(*IO)
	if !ok || streams == nil {
		return DefaultIO()
	}
	if streams.Out != nil && streams.ErrOut != nil && streams.In != nil {
		return streams
	}
	filled := *streams
	if filled.Out == nil {
		filled.Out = os.Stdout
	}
	if filled.ErrOut == nil {
		filled.ErrOut = os.Stderr
	}
	if filled.In == nil {
		filled.In = os.Stdin
	}
	return &filled
}

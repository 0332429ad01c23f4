package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError is a rule definition problem tied to a field path such as
// "when[0].type" and, when CUE knows it, a source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if !e.Pos.IsValid() {
		return e.Field + ": " + e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s",
		e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
}

// fieldError reports msg against field, positioned at v.
func fieldError(v cue.Value, field, msg string) *CompileError {
	return &CompileError{Field: field, Message: msg, Pos: v.Pos()}
}

// formatCUEError turns an evaluation error into a CompileError under the
// "cue" field. CUE may report several errors at once; the position comes
// from the first one that has any and the messages are joined.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}

	ce := &CompileError{Field: "cue"}
	msgs := make([]string, 0, len(list))
	for _, e := range list {
		msgs = append(msgs, e.Error())
		if ce.Pos.IsValid() {
			continue
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ce.Pos = pos[0]
		}
	}
	if !ce.Pos.IsValid() && len(list) == 1 {
		return err
	}
	ce.Message = strings.Join(msgs, "; ")
	return ce
}

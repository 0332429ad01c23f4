package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/gpucep/internal/compiler"
	"github.com/roach88/gpucep/internal/ir"
)

// Error codes shared by every command's JSON and text output.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002" // walking the rules directory
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004" // cue/load
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006" // CUE evaluation
	ErrCodeWriteFailed = "E007"
	ErrCodeNoRules     = "E008"

	ErrCodeInvalidWhen   = "E110"
	ErrCodeInvalidWithin = "E111"
	ErrCodeInvalidWhere  = "E112"
	ErrCodeInvalidEmit   = "E113"
)

// MapFieldToErrorCode picks the code for a compiler field path such as
// "when[1].where" or "emit.attrs.level".
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "within":
		return ErrCodeInvalidWithin
	case strings.HasPrefix(field, "when"):
		if strings.HasSuffix(field, ".where") {
			return ErrCodeInvalidWhere
		}
		return ErrCodeInvalidWhen
	case strings.HasPrefix(field, "emit"):
		return ErrCodeInvalidEmit
	}
	return ErrCodeGeneric
}

// LoadMode selects whether LoadRules stops at the first bad rule.
type LoadMode int

const (
	LoadModeFailFast LoadMode = iota
	LoadModeCollectAll
)

// LoadResult is what a rules directory compiled to.
type LoadResult struct {
	Rules     []*ir.RulePkt
	FileCount int
}

// LoadError is a coded, optionally positioned, rule loading failure.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if !e.Pos.IsValid() {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
}

func loadFailure(code, format string, args ...any) []error {
	return []error{&LoadError{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// LoadRules compiles every rule under dir. A nil result means the
// directory itself could not be used; otherwise the result holds the rules
// that compiled and the errors list the ones that did not.
func LoadRules(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, loadFailure(ErrCodeNotFound, "rules directory not found: %s", dir)
	case err != nil:
		return nil, loadFailure(ErrCodeNotFound, "error accessing rules directory: %v", err)
	case !info.IsDir():
		return nil, loadFailure(ErrCodeNotFound, "not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, loadFailure(ErrCodeScanError, "error scanning directory: %v", err)
	}
	if len(files) == 0 {
		return nil, loadFailure(ErrCodeNoFiles, "no CUE files found in %s", dir)
	}

	value, err := compiler.LoadValue(dir)
	if err != nil {
		return nil, []error{asLoadError(err, ErrCodeLoadFailed)}
	}

	rules, compileErrs := compiler.CompileRules(value, mode == LoadModeFailFast)
	errs := make([]error, 0, len(compileErrs))
	for _, err := range compileErrs {
		errs = append(errs, asLoadError(err, ErrCodeGeneric))
	}
	if len(rules) == 0 && len(errs) == 0 {
		errs = loadFailure(ErrCodeNoRules, "no rules found")
	}
	return &LoadResult{Rules: rules, FileCount: len(files)}, errs
}

// FindCUEFiles lists the .cue files under dir, recursively.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// asLoadError gives err a code. Compiler errors keep their position and
// are prefixed with the rule they belong to; anything else gets fallback.
func asLoadError(err error, fallback string) *LoadError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr
	}

	var prefix string
	var ruleErr *compiler.RuleError
	if errors.As(err, &ruleErr) {
		prefix = "rule." + ruleErr.Label + ": "
	}

	var compileErr *compiler.CompileError
	switch {
	case errors.As(err, &compileErr):
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: prefix + compileErr.Message,
			Pos:     compileErr.Pos,
		}
	case ruleErr != nil:
		return &LoadError{Code: fallback, Message: prefix + ruleErr.Err.Error()}
	}
	return &LoadError{Code: fallback, Message: err.Error()}
}

// reportLoadFailure prints the first error of a directory that could not
// be loaded and returns the command error for it.
func reportLoadFailure(f *OutputFormatter, errs []error) error {
	le := asLoadError(errs[0], ErrCodeGeneric)
	_ = f.Error(le.Code, le.Message, nil)
	return NewExitError(ExitCommandError, le.Code+": "+le.Message)
}

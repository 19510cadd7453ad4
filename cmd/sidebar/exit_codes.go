package main

import (
	"errors"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
)

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
	exitConfig  = 3
	exitFetch   = 4
)

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError prefers an explicit exit code, then maps structured
// config errors to exitConfig.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitError
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch sberrors.GetCode(err) {
	case sberrors.ErrCodeConfigLoad, sberrors.ErrCodeConfigParse, sberrors.ErrCodeConfigInvalid:
		return exitConfig
	}
	return exitFailure
}

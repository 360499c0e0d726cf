package sandbox

import "errors"

var (
	errAbsolutePath = errors.New("absolute paths not allowed")
	errEscape       = errors.New("path escapes sandbox")
	errNulByte      = errors.New("path contains NUL byte")
	errRemoveBase   = errors.New("cannot remove sandbox base directory")
)

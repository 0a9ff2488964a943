package model

import (
	"errors"
)

var (
	ErrTooBig = errors.New("file too big")
)

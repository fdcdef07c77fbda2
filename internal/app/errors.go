package service

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidLimit   = errors.New("limit must be positive")
	ErrListCreators   = errors.New("list creators")
	ErrUnknownCreator = errors.New("unknown creator")
)

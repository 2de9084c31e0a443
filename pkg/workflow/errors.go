package workflow

import "errors"

var (
	ErrSelfConnection   = errors.New("cannot connect a node to itself")
	ErrNoTarget         = errors.New("no valid target found for connection")
	ErrEmptyPrompt      = errors.New("no input or messages provided to model")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNotModelNode     = errors.New("node is not a model node")
	ErrAlreadyExecuting = errors.New("node is already executing")
	ErrWrongKind        = errors.New("operation does not apply to this node kind")
	ErrUnknownProvider  = errors.New("unknown provider")
)

package model

import (
	"errors"
	"fmt"
	"net/rpc"
	"strings"
)

var (
	ErrFileExists           = errors.New("file exists")
	ErrFileNotFound         = errors.New("file not found")
	ErrChunkNotFound        = errors.New("chunk not found")
	ErrInsufficientReplicas = errors.New("insufficient live chunk servers for replication factor")
)

// wireErrors are the sentinels that survive a trip over rpc.
var wireErrors = []error{
	ErrFileExists,
	ErrFileNotFound,
	ErrChunkNotFound,
	ErrInsufficientReplicas,
}

// FromRPC maps an error returned by a remote call back to the sentinel it carries
// so callers can use errors.Is.
func FromRPC(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}

	msg := string(serverErr)
	for _, sentinel := range wireErrors {
		if msg == sentinel.Error() {
			return sentinel
		}

		if prefix, ok := strings.CutSuffix(msg, ": "+sentinel.Error()); ok {
			return fmt.Errorf("%s: %w", prefix, sentinel)
		}
	}

	return err
}

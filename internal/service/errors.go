package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(message string) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf("bad request: %s", message)}
}

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrVideoNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "video")
}

type ErrJobAlreadyFinished struct {
	error
}

func NewErrJobAlreadyFinished(id uuid.UUID) *ErrJobAlreadyFinished {
	return &ErrJobAlreadyFinished{fmt.Errorf("job %s already reached a terminal status", id)}
}

type ErrJobNotCancellable struct {
	error
}

func NewErrJobNotCancellable(id uuid.UUID) *ErrJobNotCancellable {
	return &ErrJobNotCancellable{fmt.Errorf("job %s is not running in this process", id)}
}

type ErrVideoNotDeletable struct {
	error
}

func NewErrVideoNotDeletable(id uuid.UUID) *ErrVideoNotDeletable {
	return &ErrVideoNotDeletable{fmt.Errorf("video %s is still processing, cancel it instead", id)}
}

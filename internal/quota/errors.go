package quota

import "fmt"

type ErrQuotaExceeded struct {
	error
}

func NewErrQuotaExceeded(plan string, limit int) *ErrQuotaExceeded {
	return &ErrQuotaExceeded{fmt.Errorf("monthly upload limit of %d reached for plan %s", limit, plan)}
}

type ErrStorageExceeded struct {
	error
}

func NewErrStorageExceeded(plan string, limit int64) *ErrStorageExceeded {
	return &ErrStorageExceeded{fmt.Errorf("storage limit of %d bytes exceeded for plan %s", limit, plan)}
}

package scan

import (
	"errors"
	"fmt"

	"github.com/ingather/ingather-backend/internal/program"
)

var (
	ErrProgramNotFound     = program.ErrProgramNotFound
	ErrProgramInactive     = errors.New("活动已结束")
	ErrDuplicateScan       = errors.New("该设备已扫码")
	ErrDuplicateSubmission = errors.New("该设备已提交过表单")
	ErrScanRequired        = errors.New("未找到扫码记录，请先扫码")
	ErrScanNotFound        = errors.New("扫码记录不存在")
	ErrInvalidInput        = errors.New("请求参数无效")
)

// StorageError 表示存储层失败。事务已整体回滚，Transient 为真时可以原样重试。
type StorageError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsTransient 判断错误是否是可重试的存储失败
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrProgramNotFound, ErrProgramInactive, ErrDuplicateScan,
		ErrDuplicateSubmission, ErrScanRequired, ErrScanNotFound, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

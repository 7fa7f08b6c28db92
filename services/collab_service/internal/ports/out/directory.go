package out

import "context"

// EmployeeDirectory 员工信息只读查询，仅用于展示名称
type EmployeeDirectory interface {
	// DisplayName 查不到时返回空字符串
	DisplayName(ctx context.Context, employeeID uint64) (string, error)
}

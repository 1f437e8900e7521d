package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
)

// ErrHandleTaken は割り当てようとしたハンドルが別ユーザーに使用されている場合に返される。
var ErrHandleTaken = errors.New("handle already taken")

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation   = "23505"
	pqClassConnection   = "08"
	pqClassResources    = "53"
	pqClassOperatorStop = "57"
)

// IsUnavailable は永続化層への接続自体が失敗したことを示すエラーかどうかを返す。
// 呼び出し元はこの場合のみ再試行可能なエラーとして扱う。
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code.Class()) {
		case pqClassConnection, pqClassResources, pqClassOperatorStop:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

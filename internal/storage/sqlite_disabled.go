//go:build !sqlite

package storage

import (
	"errors"

	logx "tagdesk/pkg/logx"
)

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, errors.New("sqlite storage not built: rebuild with -tags sqlite")
}

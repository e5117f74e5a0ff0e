//go:build !sqlite
// +build !sqlite

package alertstore

import (
	"errors"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

func openSQLite(opts Options, log logx.Logger) (Store, error) {
	_ = opts
	_ = log
	return nil, errors.New("sqlite storage not built: build with -tags sqlite")
}

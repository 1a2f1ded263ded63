package errors

import (
	stderrors "errors"
	"fmt"
	"io"
)

// Wrap 给 err 加上下文；err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 同 Wrap，上下文支持格式化
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CloseAll 按打开的逆序关闭，汇总所有失败；nil 项跳过
func CloseAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", closers[i], err))
		}
	}
	return stderrors.Join(errs...)
}

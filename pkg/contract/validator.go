package contract

import "fmt"

// ValidateSections 校验拆分结果：非空、Ordinal 自 1 连续、Text 非空。
// 纯函数，无 I/O；编排层在发起任何远端调用前执行。
func ValidateSections(secs []Section) error {
	if len(secs) == 0 {
		return ErrNoSections
	}
	for i, s := range secs {
		if s.Ordinal != i+1 {
			return fmt.Errorf("%w: ordinal %d at position %d", ErrSeqInvalid, s.Ordinal, i)
		}
		if s.Text == "" {
			return fmt.Errorf("%w: section %d empty", ErrInvariantViolation, s.Ordinal)
		}
	}
	return nil
}


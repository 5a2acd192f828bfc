package contract

import (
	"fmt"
	"regexp"
	"time"
)

// SnapshotKind 区分首次生成与改写后的快照。
type SnapshotKind string

const (
	SnapshotReport  SnapshotKind = "report"
	SnapshotUpdated SnapshotKind = "report_updated"
)

// SnapshotTimeLayout: UTC 紧凑时间戳，例如 20250102T030405Z。
const SnapshotTimeLayout = "20060102T150405Z"

// SnapshotName 生成快照文件名；seq>1 时追加 _seq 以消解同秒冲突。
func SnapshotName(kind SnapshotKind, t time.Time, seq int) string {
	ts := t.UTC().Format(SnapshotTimeLayout)
	if seq > 1 {
		return fmt.Sprintf("%s_%s_%d.txt", kind, ts, seq)
	}
	return fmt.Sprintf("%s_%s.txt", kind, ts)
}

var snapshotRe = regexp.MustCompile(`^report(_updated)?_\d{8}T\d{6}Z(_\d+)?\.txt$`)

// ValidSnapshotName 仅接受 SnapshotName 能产出的形状（下载接口据此拒绝任意路径）。
func ValidSnapshotName(name string) bool { return snapshotRe.MatchString(name) }

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mist54/GenTemplate/internal/session"
	"github.com/Mist54/GenTemplate/pkg/contract"
)

// maxSnapshotSeq 为同一秒内的最大消歧次数。
const maxSnapshotSeq = 100

// Persist 以 kind 与 now（UTC）命名并写出快照。
// Writer 拒绝覆盖；同名时依次尝试 _2、_3 …。其余写错误直接上抛。
func Persist(ctx context.Context, w contract.Writer, kind contract.SnapshotKind, text string, now time.Time) (session.Snapshot, error) {
	now = now.UTC()
	for seq := 1; seq <= maxSnapshotSeq; seq++ {
		name := contract.SnapshotName(kind, now, seq)
		err := w.Write(ctx, name, strings.NewReader(text))
		if err == nil {
			return session.Snapshot{Name: name, Text: text, CreatedAt: now}, nil
		}
		if !errors.Is(err, contract.ErrExists) {
			return session.Snapshot{}, fmt.Errorf("persist %s: %w", name, err)
		}
	}
	return session.Snapshot{}, fmt.Errorf("persist %s: %d names taken: %w", kind, maxSnapshotSeq, contract.ErrExists)
}

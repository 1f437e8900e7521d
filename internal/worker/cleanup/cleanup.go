// Package cleanup は論理削除済み投稿の自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した論理削除済み投稿を、cron 式のスケジュールで物理削除する。
// 投稿に紐づく投票は永続化層のCASCADE削除で処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/socialfeed/internal/metrics"
)

// DefaultRetentionDays は論理削除済み投稿の既定の保持日数。
const DefaultRetentionDays = 30

// PostPurger は論理削除済み投稿の物理削除を抽象化するインターフェース。
type PostPurger interface {
	PurgeDeletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した論理削除済み投稿の削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	posts         PostPurger
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	RetentionDays int // 論理削除後の保持日数（デフォルト: 30）

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(posts PostPurger, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		posts:         posts,
		logger:        logger,
		metrics:       m,
		RetentionDays: DefaultRetentionDays,
		now:           time.Now,
	}
}

// Run は RetentionDays 日より前に論理削除された投稿を物理削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.posts.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("投稿クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("投稿クリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordPostsPurged(deleted)
	j.logger.Info("投稿クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// ValidateSchedule は cron 式（5フィールドまたは @every 等の記述子）を検証する。
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return nil
}

// Start は指定されたスケジュールでジョブを実行し、ctx がキャンセルされるまでブロックする。
// 前回の実行が終わっていない場合、その回はスキップする。
// 停止時は実行中のジョブの完了を待つ。
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}

	cl := cronLogger{logger: j.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, func() {
		// エラーは Run がログに記録済み。次回のスケジュールで再実行する。
		_ = j.Run(ctx)
	}); err != nil {
		return fmt.Errorf("register cleanup job: %w", err)
	}

	j.logger.Info("投稿クリーンアップスケジューラを開始しました",
		slog.String("schedule", schedule),
		slog.Int("retention_days", j.RetentionDays),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("投稿クリーンアップスケジューラを停止しました")
	return nil
}

// cronLogger は cron.Logger を slog に中継する。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}

package admin

import (
	"time"

	"github.com/trackcache/trackcache/internal/cache"
	"github.com/trackcache/trackcache/internal/logging"
)

// LaunchPolicy 只是数据；由启动流程调用 RunLaunchHygiene 执行一次。
type LaunchPolicy struct {
	ClearOnLaunch bool
	// PartialMaxAge 之前的 .part 残留会被清理；<=0 时清理全部残留。
	PartialMaxAge time.Duration
}

// LaunchReport 汇总启动清理的效果。
type LaunchReport struct {
	Cleared         *cache.ClearResult    `json:"cleared,omitempty"`
	PartialsRemoved int                   `json:"partials_removed"`
	Evicted         cache.EvictionResult  `json:"evicted"`
	ThumbEvicted    *cache.EvictionResult `json:"thumb_evicted,omitempty"`
}

// RunLaunchHygiene 在启动时执行：按策略清空缓存，否则清理崩溃残留的写入中文件
// 并把两个缓存收敛到当前上限。
func (s *Service) RunLaunchHygiene(policy LaunchPolicy) LaunchReport {
	var report LaunchReport
	if policy.ClearOnLaunch {
		cleared := s.ClearNow()
		report.Cleared = &cleared
	} else {
		report.PartialsRemoved = s.store.SweepPartials(policy.PartialMaxAge)
	}
	report.Evicted = s.Prune()

	if s.thumbs != nil {
		s.thumbs.Store().SweepPartials(0)
		evicted := s.thumbs.Prune()
		report.ThumbEvicted = &evicted
	}

	fields := logging.CacheFields("launch_hygiene", s.store.Root())
	fields["clearOnLaunch"] = policy.ClearOnLaunch
	fields["partialsRemoved"] = report.PartialsRemoved
	fields["evicted"] = len(report.Evicted.Deleted)
	if report.Cleared != nil {
		fields["cleared"] = report.Cleared.Deleted
	}
	s.logger.WithFields(fields).Info("launch hygiene completed")
	return report
}

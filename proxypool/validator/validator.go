package validator

import (
	"context"
	"sync"

	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/proxypool/model"
)

// Validator 用有界工作池并发探测一批代理。
// 结果按完成顺序收集；单个慢探测只受自己的超时约束，不会阻塞其他探测。
type Validator struct {
	prober      Prober
	concurrency int
}

// New 创建一个 Validator。concurrency 非法时回退到默认值 30。
func New(prober Prober, concurrency int) *Validator {
	if concurrency <= 0 {
		concurrency = 30
	}
	return &Validator{prober: prober, concurrency: concurrency}
}

// Run 并发探测 batch 中的所有代理并返回全部结果。
// ctx 承载整个任务的硬墙钟预算：预算耗尽时丢弃已收集的部分结果并返回
// ctx 的错误，代理保持原状态；在途探测依靠各自的超时自行收尾。
func (v *Validator) Run(ctx context.Context, batch []*model.Proxy) ([]model.ProbeOutcome, error) {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(batch) == 0 {
		return nil, nil
	}

	l.Info().Int("count", len(batch)).Int("concurrency", v.concurrency).Msg("Starting validation batch...")

	results := make(chan model.ProbeOutcome, len(batch))
	semaphore := make(chan struct{}, v.concurrency)

	go func() {
		var wg sync.WaitGroup
	dispatch:
		for _, p := range batch {
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				break dispatch
			}
			wg.Add(1)
			go func(p *model.Proxy) {
				defer wg.Done()
				defer func() { <-semaphore }()
				results <- v.prober.Probe(ctx, p)
			}(p)
		}
		wg.Wait()
		close(results)
	}()

	var outcomes []model.ProbeOutcome
	for {
		select {
		case r, ok := <-results:
			if !ok {
				l.Info().Int("probed", len(outcomes)).Msg("Validation batch finished.")
				return outcomes, nil
			}
			outcomes = append(outcomes, r)
		case <-ctx.Done():
			l.Warn().Int("collected", len(outcomes)).Err(ctx.Err()).
				Msg("Validation budget exhausted, discarding partial results.")
			return nil, ctx.Err()
		}
	}
}

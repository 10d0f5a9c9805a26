package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
	"github.com/mcdev12/tapduel/go/internal/results"
)

// Services are the match-complete consumers of one client run.
type Services struct {
	Counters *results.Counters
	Worker   *results.Worker

	closers []func()
}

func setupServices(ctx context.Context, cfg Config) *Services {
	s := &Services{Counters: &results.Counters{}}

	var recorders []results.Recorder
	if cfg.PublishResults {
		jsCfg := results.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NatsURL
		jsCfg.StreamName = cfg.ResultsStream
		pub, err := results.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			log.Warn().Err(err).Msg("results stream disabled")
		} else {
			recorders = append(recorders, pub)
			s.closers = append(s.closers, func() { pub.Close() })
		}
	}
	if cfg.RecordHistory {
		repo, pool, err := setupHistory(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("match history disabled")
		} else {
			recorders = append(recorders, repo)
			s.closers = append(s.closers, pool.Close)
		}
	}

	if len(recorders) > 0 {
		s.Worker = results.NewWorker(results.DefaultWorkerConfig(), recorders...)
		if err := s.Worker.Start(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start results worker")
			s.Worker = nil
		}
	}
	return s
}

// OnMatchComplete fans a result out to the counters and the worker.
func (s *Services) OnMatchComplete(res outcome.MatchResult) {
	s.Counters.Callback()(res)
	if s.Worker != nil {
		s.Worker.Callback()(res)
	}
}

// Close waits for queued results once ctx was cancelled, then releases
// connections.
func (s *Services) Close() {
	if s.Worker != nil {
		s.Worker.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"carbitrage/config"
	"carbitrage/models"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	RunAll(ctx context.Context) error
	HandleCommand(cmd *models.Command) error
}

// CommandQueue is the commands table written by the dashboard.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type Scheduler struct {
	cfg          *config.SchedulerConfig
	runner       Runner
	queue        CommandQueue
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
	stopOnce     sync.Once
	pollInterval time.Duration

	// one batch at a time; a tick that finds a run in progress is dropped
	running sync.Mutex
}

func New(cfg *config.SchedulerConfig, runner Runner, queue CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		queue:        queue,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: 2 * time.Second,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.scheduledRun(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.scheduledRun(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) scheduledRun(ctx context.Context) {
	if !s.running.TryLock() {
		log.Println("Previous run still in progress, skipping scheduled run")
		return
	}
	defer s.running.Unlock()

	if err := s.runner.RunAll(ctx); err != nil {
		log.Printf("Scheduled run error: %v", err)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainCommands()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainCommands handles pending commands in arrival order. A command is
// marked processed even when it fails so a bad row is not retried forever.
func (s *Scheduler) drainCommands() {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("Processing command: %s", cmd.Command)
		if err := s.handle(&cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
		}
	}
}

// handle runs batch commands under the same guard as scheduled runs, so a
// run requested while another is in progress is dropped.
func (s *Scheduler) handle(cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdRunAll, models.CmdRunStudy:
		if !s.running.TryLock() {
			log.Printf("Run in progress, dropping %s command", cmd.Command)
			return nil
		}
		defer s.running.Unlock()
	}
	return s.runner.HandleCommand(cmd)
}

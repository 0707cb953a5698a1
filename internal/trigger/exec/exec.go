// Package exec launches follow-up jobs as detached child processes of the
// crawler binary.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"

	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

// Environment variables read by the child's config loader.
const (
	EnvSubjectID = "CRAWLER_CRAWL_SUBJECT_ID"
	EnvJobType   = "CRAWLER_CRAWL_JOB_TYPE"
)

// Config describes the child command.
type Config struct {
	// Binary defaults to the running executable.
	Binary string
	// Args default to the crawl subcommand.
	Args []string
	// Env is appended to the parent environment.
	Env []string
}

// Launcher spawns one child per launch and reaps it in the background.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
	start  func(*osexec.Cmd) error
}

var _ graph.JobTrigger = (*Launcher)(nil)

// New constructs a Launcher.
func New(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if cfg.Binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.Binary = self
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{"crawl"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Launcher{cfg: cfg, logger: logger.Named("trigger.exec")}
	l.start = l.startDetached
	return l, nil
}

// Launch starts the child without waiting for it.
func (l *Launcher) Launch(ctx context.Context, subjectID string, jobType graph.JobType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subjectID == "" {
		return errors.New("launch job: empty subject id")
	}
	cmd := l.command(subjectID, jobType)
	if err := l.start(cmd); err != nil {
		return fmt.Errorf("start %s job for %s: %w", jobType, subjectID, err)
	}
	l.logger.Info("follow-up job started",
		zap.String("subject_id", subjectID),
		zap.String("job_type", string(jobType)),
	)
	return nil
}

func (l *Launcher) command(subjectID string, jobType graph.JobType) *osexec.Cmd {
	// The child outlives this process's context.
	cmd := osexec.Command(l.cfg.Binary, l.cfg.Args...) //nolint:gosec // binary comes from config
	cmd.Env = append(os.Environ(), l.cfg.Env...)
	cmd.Env = append(cmd.Env,
		EnvSubjectID+"="+subjectID,
		EnvJobType+"="+string(jobType),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

func (l *Launcher) startDetached(cmd *osexec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			l.logger.Warn("follow-up job exited with error", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
		}
	}()
	return nil
}

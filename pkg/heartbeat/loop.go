package heartbeat

import (
	"context"
	"os"

	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

// Stopper terminates the managed process
type Stopper interface {
	Stop() error
}

type LoopOptions struct {
	// Exit ends the program; os.Exit when nil
	Exit func(code int)
}

// Loop is the single consumer of the event channel and the only caller of Stopper
type Loop struct {
	pinger  Pinger
	stopper Stopper
	exit    func(int)
	logger  logging.Logger
}

func NewLoop(pinger Pinger, stopper Stopper, options LoopOptions, logger logging.Logger) *Loop {
	exit := options.Exit
	if exit == nil {
		exit = os.Exit
	}
	return &Loop{
		pinger:  pinger,
		stopper: stopper,
		exit:    exit,
		logger:  logger,
	}
}

// Run blocks on events. A dequeued EventTerminate is handled to completion and
// nothing is dequeued after it. Run only returns when exit does, or when events is closed.
func (l *Loop) Run(events <-chan Event) {
	l.logger.Infof("Heartbeat loop started")

	for event := range events {
		switch event {
		case EventHeartbeat:
			if err := l.pinger.Ping(context.Background()); err != nil {
				l.logger.Warnf("Heartbeat failed: %v", err)
			}

		case EventTerminate:
			l.logger.Infof("Termination requested, stopping managed process")
			if err := l.stopper.Stop(); err != nil {
				l.logger.Errorf("Failed to stop managed process: %v", err)
				l.exit(1)
				return
			}
			l.logger.Infof("Managed process stopped, exiting")
			l.exit(0)
			return

		case EventProcessExited:
			l.logger.Errorf("Managed process exited unexpectedly")
			l.exit(1)
			return

		default:
			l.logger.Warnf("Ignoring unknown event: %v", event)
		}
	}

	l.logger.Infof("Event channel closed, heartbeat loop done")
}

// Package notifier publishes build lifecycle events and desktop notifications
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/poltergeist/packer-driver/pkg/logger"
)

// SendFunc delivers one desktop notification
type SendFunc func(title, message string) error

// BuildNotifier raises desktop notifications for target builds
type BuildNotifier struct {
	enabled      bool
	failureSound string
	send         SendFunc
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	FailureSound string
	// Send overrides the desktop delivery, mainly for tests.
	Send SendFunc
}

// New creates a new build notifier
func New(config Config, log logger.Logger) *BuildNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	send := config.Send
	if send == nil {
		send = func(title, message string) error {
			return beeep.Notify(title, message, "")
		}
	}
	return &BuildNotifier{
		enabled:      config.Enabled,
		failureSound: config.FailureSound,
		send:         send,
		logger:       log,
	}
}

// NotifyBuildStart logs the start of a target build. Starts are frequent
// in watch mode, so they never raise a desktop notification.
func (n *BuildNotifier) NotifyBuildStart(target string) {
	n.logger.Debug(fmt.Sprintf("Building %s...", target))
}

// NotifyBuildSuccess notifies that a build succeeded
func (n *BuildNotifier) NotifyBuildSuccess(target string, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.sendNotification("✅ Scripts Compiled", fmt.Sprintf("%s built in %s", target, formatDuration(duration)))
}

// NotifyBuildFailure notifies that a build failed
func (n *BuildNotifier) NotifyBuildFailure(target string, err error) {
	if !n.enabled {
		return
	}
	n.sendNotification("❌ Script Compilation Failed", fmt.Sprintf("%s: %v", target, err))

	if n.failureSound != "" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}

func (n *BuildNotifier) sendNotification(title, message string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

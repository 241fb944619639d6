package tasks

import (
	"context"
	"strconv"
	"strings"
	"time"

	"terralink/internal/bridge"
	"terralink/internal/logging"
	"terralink/internal/metrics"
	"terralink/internal/network"
	"terralink/internal/scheduler"
)

const BootstrapInterval = time.Minute

// CommandSender is the non-blocking half of the bridge.
type CommandSender interface {
	TrySend(cmd bridge.Command) bool
}

// BootstrapTask resolves the configured init connections and queues a Dial
// for each target. It retries every interval until one round queues at least
// one dial.
type BootstrapTask struct {
	resolver network.Resolver
	sender   CommandSender
	interval time.Duration
}

func NewBootstrapTask(resolver network.Resolver, sender CommandSender) *BootstrapTask {
	return &BootstrapTask{
		resolver: resolver,
		sender:   sender,
		interval: BootstrapInterval,
	}
}

func (t *BootstrapTask) Name() string {
	return "bootstrap"
}

func (t *BootstrapTask) Interval() time.Duration {
	return t.interval
}

func (t *BootstrapTask) RunOnStart() bool {
	return true
}

func (t *BootstrapTask) Run(ctx context.Context) error {
	targets, err := t.resolver.Resolve(ctx)
	if err != nil {
		logging.Log("BOOTSTRAP", "resolve_partial", map[string]string{
			"resolved": strconv.Itoa(len(targets)),
			"reason":   strings.ReplaceAll(err.Error(), "\n", "; "),
		})
	}
	if len(targets) == 0 {
		return nil
	}

	queued := 0
	for _, addr := range targets {
		cmd := bridge.Dial{Addr: addr}
		if !t.sender.TrySend(cmd) {
			metrics.CommandsDropped.WithLabelValues(cmd.Kind()).Inc()
			logging.Log("BOOTSTRAP", "dial_dropped", map[string]string{"addr": addr.String()})
			continue
		}
		queued++
		logging.Log("BOOTSTRAP", "dial_queued", map[string]string{"addr": addr.String()})
	}
	if queued == 0 {
		return nil
	}
	return scheduler.ErrTaskCompleted
}

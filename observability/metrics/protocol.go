package metrics

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"securepay/core/events"
)

// ProtocolMetrics tracks command outcomes and the committed protocol events.
// It satisfies events.Emitter so the runtime can feed it directly.
type ProtocolMetrics struct {
	commands        *prometheus.CounterVec
	commandLatency  *prometheus.HistogramVec
	transfers       *prometheus.CounterVec
	escrowVolume    *prometheus.CounterVec
	feesLocked      *prometheus.CounterVec
	buybacks        *prometheus.CounterVec
	burned          *prometheus.CounterVec
	rewardPayouts   *prometheus.CounterVec
	rewardAmount    *prometheus.CounterVec
	timelockChanges *prometheus.CounterVec
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

// Protocol returns the process-wide protocol metrics, registering them with
// the default registry on first use.
func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = NewProtocolMetrics()
		protocolRegistry.MustRegister(prometheus.DefaultRegisterer)
	})
	return protocolRegistry
}

// NewProtocolMetrics builds unregistered protocol collectors.
func NewProtocolMetrics() *ProtocolMetrics {
	return &ProtocolMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "runtime",
			Name:      "commands_total",
			Help:      "Commands applied by the runtime segmented by command and outcome.",
		}, []string{"command", "outcome"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "securepay",
			Subsystem: "runtime",
			Name:      "command_duration_seconds",
			Help:      "Time spent applying a command, including commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "escrow",
			Name:      "transfers_total",
			Help:      "Secured transfer lifecycle transitions by action.",
		}, []string{"action"}),
		escrowVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "escrow",
			Name:      "locked_amount_total",
			Help:      "Token base units locked by initiated transfers.",
		}, []string{"token"}),
		feesLocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "escrow",
			Name:      "fees_total",
			Help:      "Fee base units charged on initiated transfers.",
		}, []string{"token"}),
		buybacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "treasury",
			Name:      "buybacks_total",
			Help:      "Per-token buyback attempts by outcome.",
		}, []string{"token", "outcome"}),
		burned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "treasury",
			Name:      "burned_amount_total",
			Help:      "Reference asset base units burned by buybacks.",
		}, []string{"token"}),
		rewardPayouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "rewards",
			Name:      "payouts_total",
			Help:      "Reward payouts by kind.",
		}, []string{"kind"}),
		rewardAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "rewards",
			Name:      "paid_amount_total",
			Help:      "Reward token base units paid by kind.",
		}, []string{"kind"}),
		timelockChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "timelock",
			Name:      "changes_total",
			Help:      "Timelock lifecycle transitions by action and step.",
		}, []string{"action", "step"}),
	}
}

// MustRegister registers every collector with reg.
func (m *ProtocolMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.commands,
		m.commandLatency,
		m.transfers,
		m.escrowVolume,
		m.feesLocked,
		m.buybacks,
		m.burned,
		m.rewardPayouts,
		m.rewardAmount,
		m.timelockChanges,
	)
}

// ObserveCommand records the outcome and latency of one runtime command.
// Errors are labelled with the package prefix of their message so label
// cardinality stays bounded.
func (m *ProtocolMetrics) ObserveCommand(command string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	if command == "" {
		command = "unknown"
	}
	m.commands.WithLabelValues(command, outcome(err)).Inc()
	m.commandLatency.WithLabelValues(command).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for unwrapped := errors.Unwrap(err); unwrapped != nil; unwrapped = errors.Unwrap(err) {
		err = unwrapped
	}
	msg := err.Error()
	if prefix, _, found := strings.Cut(msg, ":"); found && !strings.Contains(prefix, " ") {
		return prefix
	}
	return "error"
}

// Emit implements events.Emitter.
func (m *ProtocolMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	switch e := evt.(type) {
	case events.TransferInitiated:
		m.transfers.WithLabelValues("initiated").Inc()
		token := tokenLabel(e.Token.Hex())
		m.escrowVolume.WithLabelValues(token).Add(toFloat(e.Amount))
		m.feesLocked.WithLabelValues(token).Add(toFloat(e.Fee))
	case events.TransferSettled:
		m.transfers.WithLabelValues(string(e.Action)).Inc()
	case events.BuybackExecuted:
		token := tokenLabel(e.Token.Hex())
		m.buybacks.WithLabelValues(token, "executed").Inc()
		m.burned.WithLabelValues(token).Add(toFloat(e.AmountOut))
	case events.BuybackFailed:
		m.buybacks.WithLabelValues(tokenLabel(e.Token.Hex()), e.Reason).Inc()
	case events.CheckedIn:
		m.observeReward("checkin", e.Reward)
	case events.TaskRewardClaimed:
		m.observeReward("task", e.Reward)
	case events.RewardClaimed:
		kind := "claim"
		if e.SelfSigned {
			kind = "claim_self_signed"
		}
		m.observeReward(kind, e.Amount)
	case events.TimelockChange:
		step := strings.TrimPrefix(e.Kind, "timelock.")
		m.timelockChanges.WithLabelValues(e.Action, step).Inc()
	}
}

func (m *ProtocolMetrics) observeReward(kind string, amount *big.Int) {
	m.rewardPayouts.WithLabelValues(kind).Inc()
	m.rewardAmount.WithLabelValues(kind).Add(toFloat(amount))
}

func tokenLabel(hex string) string {
	trimmed := strings.ToLower(strings.TrimSpace(hex))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func toFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
